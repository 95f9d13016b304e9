package ipam

import "errors"

// Все нарушения инвариантов всплывают как validation-ошибки ДО записи в БД,
// транзакция целиком откатывается.
var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
	ErrDuplicate    = errors.New("duplicate")

	// explicit parent не совпал с вычисленным closest parent
	ErrContainment = errors.New("parent does not match the closest containing prefix")
	// изменение оставило бы IP-адреса без валидного родителя
	ErrOrphanedIPs = errors.New("change would orphan ip addresses")
	// network-поля и namespace нельзя менять одной операцией
	ErrCrossFieldChange = errors.New("cannot change network fields and namespace in the same update")
	// перенос namespace при живых VRF-ассоциациях на поддереве
	ErrVRFAttached = errors.New("prefix or its descendants have vrf assignments")
	// в namespace нет префикса, содержащего адрес
	ErrNoCoveringPrefix = errors.New("no containing prefix found")
	// host у IPAddress неизменяем
	ErrHostImmutable = errors.New("host address cannot be changed after creation")
	// контейнер другой IP-версии
	ErrVersionMismatch = errors.New("ip version mismatch")
	// удаление порвало бы ссылки (root-префикс с адресами)
	ErrProtected = errors.New("deletion would orphan dependent objects")
)
