package models

// User is an account record. The subscription columns of the same row
// form the Entitlement; see Entitlement.
type User struct {
	UUID         string
	Email        string
	Username     string
	PasswordHash string
	Role         string
}
