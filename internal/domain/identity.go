package domain

// CallerIdentity описывает, кто совершает покупку: аутентифицированный пользователь или аноним.
// Аноним допускается только для разработки и тестов и включается конфигурацией.
type CallerIdentity struct {
	id            string
	credential    string
	authenticated bool
}

// Authenticated создаёт идентичность пользователя с исходным токеном для проброса в каталог.
func Authenticated(id, credential string) CallerIdentity {
	return CallerIdentity{id: id, credential: credential, authenticated: true}
}

// Anonymous возвращает анонимную идентичность.
func Anonymous() CallerIdentity {
	return CallerIdentity{}
}

// IsAnonymous сообщает, что вызывающий не аутентифицирован.
func (c CallerIdentity) IsAnonymous() bool { return !c.authenticated }

// ID возвращает идентификатор пользователя; пустая строка для анонима.
func (c CallerIdentity) ID() string { return c.id }

// Credential возвращает токен для пересылки вниз по цепочке.
func (c CallerIdentity) Credential() string { return c.credential }

func (c CallerIdentity) String() string {
	if c.IsAnonymous() {
		return "anonymous"
	}
	return c.id
}
