package access

import (
	"errors"
	"regexp"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/nyaruka/phonenumbers"

	"clubhouse/cmd/identity"
)

const defaultRegion = "US"

var zipRe = regexp.MustCompile(`^\d{5}$`)

// submitForm is the shape validated by ozzo; json tags name the error fields.
type submitForm struct {
	Name          string `json:"name"`
	Email         string `json:"email"`
	Phone         string `json:"phone"`
	ZipCode       string `json:"zipCode"`
	Reason        string `json:"reason"`
	AgreeToValues bool   `json:"agreeToValues"`
}

func validateSubmit(op string, in SubmitInput) (Request, error) {
	name := strings.Join(strings.Fields(in.Name), " ")
	if name == "" {
		name = strings.Join(strings.Fields(in.FirstName+" "+in.LastName), " ")
	}

	f := submitForm{
		Name:          name,
		Email:         strings.TrimSpace(in.Email),
		Phone:         strings.TrimSpace(in.Phone),
		ZipCode:       strings.TrimSpace(in.ZipCode),
		Reason:        strings.TrimSpace(in.Reason),
		AgreeToValues: in.AgreeToValues,
	}

	var agree []validation.Rule
	if in.RequireAgreement {
		agree = append(agree, validation.Required.Error("you must agree to the club values"))
	}

	err := validation.ValidateStruct(&f,
		validation.Field(&f.Name, validation.Required.Error("name is required"), validation.Length(1, 200)),
		validation.Field(&f.Email, validation.Required.Error("email is required"), validation.Length(3, 254), is.Email.Error("must be a valid email address")),
		validation.Field(&f.ZipCode, validation.Required.Error("zip code is required"), validation.Match(zipRe).Error("zip code must be 5 digits")),
		validation.Field(&f.Reason, validation.Required.Error("reason is required"), validation.Length(1, 4000)),
		validation.Field(&f.AgreeToValues, agree...),
	)

	fields := map[string]string{}
	if err != nil {
		var verrs validation.Errors
		if !errors.As(err, &verrs) {
			return Request{}, err
		}
		for k, e := range verrs {
			fields[k] = e.Error()
		}
	}

	phone := ""
	if f.Phone != "" {
		p, perr := normalizePhone(f.Phone, in.Country)
		if perr != nil {
			fields["phone"] = "must be a valid phone number"
		}
		phone = p
	}

	if len(fields) > 0 {
		return Request{}, identity.ValidationError{Op: op, Fields: fields}
	}

	first, last := identity.SplitName(f.Name)
	if strings.TrimSpace(in.FirstName) != "" && strings.TrimSpace(in.Name) == "" {
		first = strings.TrimSpace(in.FirstName)
		last = strings.TrimSpace(in.LastName)
	}

	return Request{
		Email:     f.Email,
		EmailNorm: identity.NormalizeEmail(f.Email),
		FirstName: first,
		LastName:  last,
		Phone:     phone,
		Address:   strings.TrimSpace(in.Address),
		City:      strings.TrimSpace(in.City),
		State:     strings.TrimSpace(in.State),
		ZipCode:   f.ZipCode,
		Country:   strings.TrimSpace(in.Country),
		Reason:    f.Reason,
		Status:    StatusPending,
	}, nil
}

// normalizePhone parses raw in the region implied by country and formats it as E.164.
func normalizePhone(raw, country string) (string, error) {
	num, err := phonenumbers.Parse(raw, regionFor(country))
	if err != nil {
		return "", err
	}
	if !phonenumbers.IsValidNumber(num) {
		return "", errors.New("invalid phone number")
	}
	return phonenumbers.Format(num, phonenumbers.E164), nil
}

// regionFor accepts a two-letter region code; anything else falls back to US.
func regionFor(country string) string {
	c := strings.ToUpper(strings.TrimSpace(country))
	if len(c) == 2 && phonenumbers.GetCountryCodeForRegion(c) != 0 {
		return c
	}
	return defaultRegion
}
