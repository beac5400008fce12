// Package model: доменные модели directory-api.
package model

// Identity: аутентифицированный отправитель по данным провайдера.
// Строится из claims JWT, отдельно не хранится.
type Identity struct {
	// ID: subject в IdP (sub)
	ID string
	// DisplayName: name или preferred_username
	DisplayName string
	// Адрес email
	Email string
	// AvatarURL: claim picture (может быть пустым)
	AvatarURL string
	// Роли из realm_access.roles
	Roles []string
}

// HasRole сообщает, есть ли у identity роль role.
func (i *Identity) HasRole(role string) bool {
	for _, r := range i.Roles {
		if r == role {
			return true
		}
	}
	return false
}
