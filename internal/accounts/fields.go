package accounts

import (
	"strings"

	"github.com/14vimal2/polarix/internal/filters"
	"github.com/google/uuid"
)

// LocalFields is the filterable surface of the local store.
var LocalFields = filters.MustNewRegistry(
	filters.Field[Account]{Name: "id", Column: "id", Kind: filters.KindUUID, Value: func(a Account) (any, bool) {
		parsed, err := uuid.Parse(a.ID)
		return parsed, err == nil
	}},
	filters.Field[Account]{Name: "externalId", Column: "external_id", Kind: filters.KindText, Value: func(a Account) (any, bool) {
		return optionalText(a.ExternalID)
	}},
	filters.Field[Account]{Name: "username", Column: "username", Kind: filters.KindText, Value: func(a Account) (any, bool) {
		return a.Username, true
	}},
	filters.Field[Account]{Name: "email", Column: "email", Kind: filters.KindText, Value: func(a Account) (any, bool) {
		return optionalText(a.Email)
	}},
	filters.Field[Account]{Name: "firstName", Column: "first_name", Kind: filters.KindText, Value: func(a Account) (any, bool) {
		return optionalText(a.FirstName)
	}},
	filters.Field[Account]{Name: "lastName", Column: "last_name", Kind: filters.KindText, Value: func(a Account) (any, bool) {
		return optionalText(a.LastName)
	}},
	filters.Field[Account]{Name: "dateOfBirth", Column: "date_of_birth", Kind: filters.KindDate, Value: func(a Account) (any, bool) {
		if a.DateOfBirth == nil {
			return nil, false
		}
		return a.DateOfBirth.UTC(), true
	}},
	filters.Field[Account]{Name: "enabled", Column: "enabled", Kind: filters.KindBool, Value: func(a Account) (any, bool) {
		return a.Enabled, true
	}},
	filters.Field[Account]{Name: "createdAt", Column: "created_at", Kind: filters.KindDateTime, Value: func(a Account) (any, bool) {
		return a.CreatedAt.UTC(), !a.CreatedAt.IsZero()
	}},
	filters.Field[Account]{Name: "updatedAt", Column: "updated_at", Kind: filters.KindDateTime, Value: func(a Account) (any, bool) {
		return a.UpdatedAt.UTC(), !a.UpdatedAt.IsZero()
	}},
)

// localSortColumns maps sortable field names, lowercased, to columns.
var localSortColumns = map[string]string{
	"id":          "id",
	"externalid":  "external_id",
	"username":    "username",
	"email":       "email",
	"firstname":   "first_name",
	"lastname":    "last_name",
	"dateofbirth": "date_of_birth",
	"enabled":     "enabled",
	"createdat":   "created_at",
	"updatedat":   "updated_at",
}

func localSortColumn(field string) string {
	if column, ok := localSortColumns[strings.ToLower(strings.TrimSpace(field))]; ok {
		return column
	}
	return "created_at"
}

func optionalText(value string) (any, bool) {
	if value == "" {
		return nil, false
	}
	return value, true
}
