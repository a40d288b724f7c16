package canonical

import "strconv"

// User is the canonical user record with its address flattened.
type User struct {
	ID             int64  `json:"id"`
	Email          string `json:"email" validate:"required"`
	Username       string `json:"username"`
	FirstName      string `json:"first_name"`
	LastName       string `json:"last_name"`
	Phone          string `json:"phone"`
	AddressStreet  string `json:"address_street"`
	AddressCity    string `json:"address_city"`
	AddressZipcode string `json:"address_zipcode"`
	Source         string `json:"source" validate:"required"`
}

func (u User) Key() string { return strconv.FormatInt(u.ID, 10) }
