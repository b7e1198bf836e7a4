package web

import (
	"net/url"
	"time"

	"clubhouse/cmd/identity"
	"clubhouse/cmd/internal/access"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (r *loginRequest) fromForm(v url.Values) {
	r.Username = v.Get("username")
	r.Password = v.Get("password")
}

type accessRequestBody struct {
	Name          string `json:"name"`
	FirstName     string `json:"firstName"`
	LastName      string `json:"lastName"`
	Email         string `json:"email"`
	Phone         string `json:"phone"`
	Address       string `json:"address"`
	City          string `json:"city"`
	State         string `json:"state"`
	ZipCode       string `json:"zipCode"`
	Country       string `json:"country"`
	Reason        string `json:"reason"`
	AgreeToValues bool   `json:"agreeToValues"`
	BotToken      string `json:"cf-turnstile-response"`
}

func (r *accessRequestBody) fromForm(v url.Values) {
	r.Name = v.Get("name")
	r.FirstName = v.Get("firstName")
	r.LastName = v.Get("lastName")
	r.Email = v.Get("email")
	r.Phone = v.Get("phone")
	r.Address = v.Get("address")
	r.City = v.Get("city")
	r.State = v.Get("state")
	r.ZipCode = v.Get("zipCode")
	r.Country = v.Get("country")
	r.Reason = v.Get("reason")
	r.AgreeToValues = formBool(v, "agreeToValues")
	r.BotToken = v.Get("cf-turnstile-response")
}

func (r accessRequestBody) values() map[string]string {
	return map[string]string{
		"name":      r.Name,
		"firstName": r.FirstName,
		"lastName":  r.LastName,
		"email":     r.Email,
		"phone":     r.Phone,
		"address":   r.Address,
		"city":      r.City,
		"state":     r.State,
		"zipCode":   r.ZipCode,
		"country":   r.Country,
		"reason":    r.Reason,
	}
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
	ConfirmPassword string `json:"confirmPassword"`
}

func (r *changePasswordRequest) fromForm(v url.Values) {
	r.CurrentPassword = v.Get("currentPassword")
	r.NewPassword = v.Get("newPassword")
	r.ConfirmPassword = v.Get("confirmPassword")
}

type updateAccountRequest struct {
	Username        string `json:"username"`
	Email           string `json:"email"`
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
	ConfirmPassword string `json:"confirmPassword"`
}

func (r *updateAccountRequest) fromForm(v url.Values) {
	r.Username = v.Get("username")
	r.Email = v.Get("email")
	r.CurrentPassword = v.Get("currentPassword")
	r.NewPassword = v.Get("newPassword")
	r.ConfirmPassword = v.Get("confirmPassword")
}

type deleteAccountRequest struct {
	Password string `json:"password"`
	Confirm  bool   `json:"confirm"`
}

func (r *deleteAccountRequest) fromForm(v url.Values) {
	r.Password = v.Get("password")
	r.Confirm = formBool(v, "confirm")
}

type approveRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Notes    string `json:"notes"`
}

func (r *approveRequest) fromForm(v url.Values) {
	r.Username = v.Get("username")
	r.Password = v.Get("password")
	r.Notes = v.Get("notes")
}

type rejectRequest struct {
	Notes string `json:"notes"`
}

func (r *rejectRequest) fromForm(v url.Values) {
	r.Notes = v.Get("notes")
}

type devAdminRequest struct {
	Username  string `json:"username"`
	Password  string `json:"password"`
	Email     string `json:"email"`
	SecretKey string `json:"secretKey"`
}

type userResponse struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	IsAdmin   bool      `json:"isAdmin"`
	CreatedAt time.Time `json:"createdAt"`
}

func toUserResponse(u identity.User) userResponse {
	return userResponse{
		ID:        u.ID,
		Username:  u.Username,
		Email:     u.Email,
		IsAdmin:   u.IsAdmin,
		CreatedAt: u.CreatedAt,
	}
}

func toUserResponses(us []identity.User) []userResponse {
	out := make([]userResponse, 0, len(us))
	for _, u := range us {
		out = append(out, toUserResponse(u))
	}
	return out
}

type requestResponse struct {
	ID          string     `json:"id"`
	Email       string     `json:"email"`
	FirstName   string     `json:"firstName"`
	LastName    string     `json:"lastName"`
	Phone       string     `json:"phone,omitempty"`
	Address     string     `json:"address,omitempty"`
	City        string     `json:"city,omitempty"`
	State       string     `json:"state,omitempty"`
	ZipCode     string     `json:"zipCode"`
	Country     string     `json:"country,omitempty"`
	Reason      string     `json:"reason"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"createdAt"`
	ProcessedAt *time.Time `json:"processedAt,omitempty"`
	ProcessedBy *string    `json:"processedBy,omitempty"`
	Notes       *string    `json:"notes,omitempty"`
}

func toRequestResponse(r access.Request) requestResponse {
	return requestResponse{
		ID:          r.ID,
		Email:       r.Email,
		FirstName:   r.FirstName,
		LastName:    r.LastName,
		Phone:       r.Phone,
		Address:     r.Address,
		City:        r.City,
		State:       r.State,
		ZipCode:     r.ZipCode,
		Country:     r.Country,
		Reason:      r.Reason,
		Status:      string(r.Status),
		CreatedAt:   r.CreatedAt,
		ProcessedAt: r.ProcessedAt,
		ProcessedBy: r.ProcessedBy,
		Notes:       r.Notes,
	}
}

func toRequestResponses(rs []access.Request) []requestResponse {
	out := make([]requestResponse, 0, len(rs))
	for _, r := range rs {
		out = append(out, toRequestResponse(r))
	}
	return out
}
