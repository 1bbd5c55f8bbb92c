package server

import (
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/14vimal2/polarix/internal/accounts"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

const (
	minimumAge = 18
	maximumAge = 100

	dateOfBirthLayout = "2006-01-02"
)

var (
	registerValidationsOnce sync.Once
	registerValidationsErr  error

	// validationClock anchors age checks.
	validationClock = time.Now

	errUnexpectedValidator = errors.New("gin binding validator is not go-playground/validator")
)

// Reserved query parameters; every other parameter is a filter entry.
var pagingParameters = map[string]struct{}{
	"page":    {},
	"size":    {},
	"sortBy":  {},
	"sortDir": {},
}

type createAccountPayload struct {
	Username    string `json:"username" binding:"required,max=50"`
	Email       string `json:"email" binding:"omitempty,max=50,email"`
	FirstName   string `json:"firstName" binding:"required,max=50"`
	LastName    string `json:"lastName" binding:"omitempty,max=50"`
	Password    string `json:"password" binding:"required,min=6,max=64"`
	DateOfBirth string `json:"dateOfBirth" binding:"omitempty,agerange"`
}

type updateAccountPayload struct {
	Username    string `json:"username" binding:"required,max=50"`
	Email       string `json:"email" binding:"omitempty,max=50,email"`
	FirstName   string `json:"firstName" binding:"required,max=50"`
	LastName    string `json:"lastName" binding:"omitempty,max=50"`
	Password    string `json:"password" binding:"omitempty,min=6,max=64"`
	DateOfBirth string `json:"dateOfBirth" binding:"omitempty,agerange"`
}

type patchAccountPayload struct {
	Username    string `json:"username" binding:"omitempty,max=50"`
	Email       string `json:"email" binding:"omitempty,max=50,email"`
	FirstName   string `json:"firstName" binding:"omitempty,max=50"`
	LastName    string `json:"lastName" binding:"omitempty,max=50"`
	Password    string `json:"password" binding:"omitempty,min=6,max=64"`
	DateOfBirth string `json:"dateOfBirth" binding:"omitempty,agerange"`
}

type credentialPayload struct {
	Password string `json:"password" binding:"required,min=6,max=64"`
}

type enabledPayload struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

func (p createAccountPayload) input() (accounts.AccountInput, error) {
	return accountInput(p.Username, p.Email, p.FirstName, p.LastName, p.Password, p.DateOfBirth)
}

func (p updateAccountPayload) input() (accounts.AccountInput, error) {
	return accountInput(p.Username, p.Email, p.FirstName, p.LastName, p.Password, p.DateOfBirth)
}

func (p patchAccountPayload) input() (accounts.AccountInput, error) {
	return accountInput(p.Username, p.Email, p.FirstName, p.LastName, p.Password, p.DateOfBirth)
}

func accountInput(username, email, firstName, lastName, password, dateOfBirth string) (accounts.AccountInput, error) {
	dob, err := accounts.ParseDateOfBirth(dateOfBirth)
	if err != nil {
		return accounts.AccountInput{}, err
	}
	return accounts.AccountInput{
		Username:    username,
		Email:       email,
		FirstName:   firstName,
		LastName:    lastName,
		Password:    password,
		DateOfBirth: dob,
	}, nil
}

func registerValidations() error {
	registerValidationsOnce.Do(func() {
		engine, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			registerValidationsErr = errUnexpectedValidator
			return
		}
		registerValidationsErr = engine.RegisterValidation("agerange", validateAgeRange)
	})
	return registerValidationsErr
}

// validateAgeRange accepts a yyyy-mm-dd date in the past whose age today lies
// within [minimumAge, maximumAge].
func validateAgeRange(field validator.FieldLevel) bool {
	raw := strings.TrimSpace(field.Field().String())
	if raw == "" {
		return true
	}
	born, err := time.Parse(dateOfBirthLayout, raw)
	if err != nil {
		return false
	}
	now := validationClock().UTC()
	if !born.Before(now) {
		return false
	}
	age := ageOn(born, now)
	return age >= minimumAge && age <= maximumAge
}

func ageOn(born, day time.Time) int {
	age := day.Year() - born.Year()
	if day.Month() < born.Month() || (day.Month() == born.Month() && day.Day() < born.Day()) {
		age--
	}
	return age
}

// searchRequest splits the query string into paging parameters and filters.
// Repeated filter keys keep their first value.
func searchRequest(c *gin.Context) (accounts.SearchRequest, error) {
	request := accounts.SearchRequest{
		Filters: make(map[string]string),
		SortBy:  c.Query("sortBy"),
		SortDir: c.Query("sortDir"),
	}
	var err error
	if request.Page, err = optionalInt(c.Query("page")); err != nil {
		return accounts.SearchRequest{}, err
	}
	if request.Size, err = optionalInt(c.Query("size")); err != nil {
		return accounts.SearchRequest{}, err
	}
	for key, values := range c.Request.URL.Query() {
		if _, reserved := pagingParameters[key]; reserved || key == accessTokenQueryKey || len(values) == 0 {
			continue
		}
		request.Filters[key] = values[0]
	}
	return request, nil
}

func optionalInt(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}
