package ipam

import (
	"errors"
	"fmt"

	"nsot/internal/models"

	"gorm.io/gorm"
)

// prefixState — снимок networking-полей префикса до изменения. Каскаду нужен
// бывший родитель и бывший namespace, а не текущие значения.
type prefixState struct {
	namespaceID uint
	parentID    *uint
	network     []byte
	broadcast   []byte
	length      int
	version     int
}

func snapshot(p *models.Prefix) *prefixState {
	return &prefixState{
		namespaceID: p.NamespaceID,
		parentID:    p.ParentID,
		network:     append([]byte(nil), p.Network...),
		broadcast:   append([]byte(nil), p.Broadcast...),
		length:      p.PrefixLength,
		version:     p.IPVersion,
	}
}

// closestParent — самый специфичный префикс namespace, интервал которого
// содержит [network, broadcast] при строго меньшей длине. Детерминированный
// max-by-prefix_length, ничего эвристического.
func closestParent(tx *gorm.DB, namespaceID uint, f netFields, excludeID uint) (*models.Prefix, error) {
	q := tx.
		Where("namespace_id = ? AND ip_version = ? AND prefix_length < ?", namespaceID, f.version, f.length).
		Where("network <= ? AND broadcast >= ?", f.network, f.broadcast)
	if excludeID != 0 {
		q = q.Where("id <> ?", excludeID)
	}
	var p models.Prefix
	err := q.Order("prefix_length DESC").First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// closestParentForHost — то же для одиночного адреса.
func closestParentForHost(tx *gorm.DB, namespaceID uint, version int, host []byte) (*models.Prefix, error) {
	var p models.Prefix
	err := tx.
		Where("namespace_id = ? AND ip_version = ?", namespaceID, version).
		Where("network <= ? AND broadcast >= ?", host, host).
		Order("prefix_length DESC").
		First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func uintPtrEq(a, b *uint) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// reparentSubnets чинит дерево вокруг префикса после того, как его
// собственный parent уже выставлен. Идемпотентно: повторный прогон без
// новых изменений — no-op.
func reparentSubnets(tx *gorm.DB, p *models.Prefix, prev *prefixState, netChanged bool) error {
	// (a) дети, выпавшие из нового диапазона, поднимаются к бывшему родителю
	if netChanged && prev != nil {
		err := tx.Model(&models.Prefix{}).
			Where("parent_id = ?", p.ID).
			Where("network < ? OR broadcast > ? OR ip_version <> ?", p.Network, p.Broadcast, p.IPVersion).
			Update("parent_id", prev.parentID).Error
		if err != nil {
			return err
		}
	}

	// (b) втягиваем префиксы, которые были без родителя или висели на более
	// грубом контейнере — теперь этот префикс для них ближе
	coarser := tx.Session(&gorm.Session{NewDB: true}).
		Model(&models.Prefix{}).
		Select("id").
		Where("namespace_id = ? AND prefix_length < ?", p.NamespaceID, p.PrefixLength)
	err := tx.Model(&models.Prefix{}).
		Where("namespace_id = ? AND ip_version = ? AND id <> ?", p.NamespaceID, p.IPVersion, p.ID).
		Where("network >= ? AND broadcast <= ? AND prefix_length > ?", p.Network, p.Broadcast, p.PrefixLength).
		Where("parent_id IS NULL OR parent_id IN (?)", coarser).
		Update("parent_id", p.ID).Error
	if err != nil {
		return err
	}

	// (c) после смены networking-полей кто-то из детей может лучше ложиться
	// под другого потомка — пересчитываем closest parent каждому
	if netChanged {
		var children []models.Prefix
		if err := tx.Where("parent_id = ?", p.ID).Order("prefix_length ASC, network ASC").Find(&children).Error; err != nil {
			return err
		}
		for i := range children {
			c := &children[i]
			np, err := closestParent(tx, c.NamespaceID, fieldsOf(c), c.ID)
			if err != nil {
				return err
			}
			var npID *uint
			if np != nil {
				npID = &np.ID
			}
			if !uintPtrEq(npID, c.ParentID) {
				if err := tx.Model(c).Update("parent_id", npID).Error; err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// reparentIPs — симметричный каскад для адресов-листьев.
func reparentIPs(tx *gorm.DB, p *models.Prefix, prev *prefixState, netChanged bool) error {
	// (a) адреса, выпавшие из нового диапазона: наверх к бывшему родителю,
	// а без бывшего родителя им некуда — это orphaning violation
	if netChanged && prev != nil {
		outside := func() *gorm.DB {
			return tx.Session(&gorm.Session{NewDB: true}).
				Model(&models.IPAddress{}).
				Where("parent_id = ?", p.ID).
				Where("host < ? OR host > ? OR ip_version <> ?", p.Network, p.Broadcast, p.IPVersion)
		}
		if prev.parentID == nil {
			var n int64
			if err := outside().Count(&n).Error; err != nil {
				return err
			}
			if n > 0 {
				return fmt.Errorf("%w: prefix %s no longer covers %d assigned address(es) and has no parent",
					ErrOrphanedIPs, PrefixString(p), n)
			}
		} else if err := outside().Update("parent_id", prev.parentID).Error; err != nil {
			return err
		}
	}

	// (b) забираем адреса, чей текущий родитель грубее этого префикса.
	// Кандидатов лочим, чтобы конкурентная вставка соседнего префикса
	// не растащила те же адреса.
	coarser := tx.Session(&gorm.Session{NewDB: true}).
		Model(&models.Prefix{}).
		Select("id").
		Where("namespace_id = ? AND prefix_length < ?", p.NamespaceID, p.PrefixLength)
	var claim []models.IPAddress
	err := withLock(tx, true).
		Where("ip_version = ? AND host >= ? AND host <= ?", p.IPVersion, p.Network, p.Broadcast).
		Where("parent_id IS NULL OR parent_id IN (?)", coarser).
		Find(&claim).Error
	if err != nil {
		return err
	}
	if len(claim) > 0 {
		ids := make([]uint, 0, len(claim))
		for _, ip := range claim {
			ids = append(ids, ip.ID)
		}
		if err := tx.Model(&models.IPAddress{}).Where("id IN ?", ids).Update("parent_id", p.ID).Error; err != nil {
			return err
		}
	}

	// (c) спускаем адреса в более специфичных прямых детей. Дети —
	// непересекающиеся интервалы, одного прохода достаточно.
	var children []models.Prefix
	if err := tx.Where("parent_id = ? AND ip_version = ?", p.ID, p.IPVersion).Find(&children).Error; err != nil {
		return err
	}
	for i := range children {
		c := &children[i]
		err := tx.Model(&models.IPAddress{}).
			Where("parent_id = ? AND host >= ? AND host <= ?", p.ID, c.Network, c.Broadcast).
			Update("parent_id", c.ID).Error
		if err != nil {
			return err
		}
	}
	return nil
}

// moveDescendants переносит всё поддерево (по containment, не по parent_id)
// в новый namespace префикса. Если в целевом namespace есть пересекающиеся
// префиксы — merge: каждый потомок переносится отдельно, чтобы для него
// заново отработал выбор родителя. Без пересечений хватает bulk-апдейта.
func moveDescendants(tx *gorm.DB, p *models.Prefix, oldNamespaceID uint) error {
	var desc []models.Prefix
	err := tx.
		Where("namespace_id = ? AND ip_version = ? AND id <> ?", oldNamespaceID, p.IPVersion, p.ID).
		Where("network >= ? AND broadcast <= ?", p.Network, p.Broadcast).
		Order("prefix_length ASC, network ASC").
		Find(&desc).Error
	if err != nil {
		return err
	}
	if len(desc) == 0 {
		return nil
	}

	var overlap int64
	err = tx.Model(&models.Prefix{}).
		Where("namespace_id = ? AND ip_version = ? AND id <> ?", p.NamespaceID, p.IPVersion, p.ID).
		Where("network <= ? AND broadcast >= ?", p.Broadcast, p.Network).
		Count(&overlap).Error
	if err != nil {
		return err
	}

	if overlap == 0 {
		ids := make([]uint, 0, len(desc))
		for _, d := range desc {
			ids = append(ids, d.ID)
		}
		return tx.Model(&models.Prefix{}).Where("id IN ?", ids).Update("namespace_id", p.NamespaceID).Error
	}

	// merge: от крупных блоков к мелким, чтобы родители уже были на месте
	for i := range desc {
		d := &desc[i]
		var dup int64
		err := tx.Model(&models.Prefix{}).
			Where("namespace_id = ? AND network = ? AND prefix_length = ? AND id <> ?",
				p.NamespaceID, d.Network, d.PrefixLength, d.ID).
			Count(&dup).Error
		if err != nil {
			return err
		}
		if dup > 0 {
			return fmt.Errorf("%w: prefix %s already exists in target namespace", ErrDuplicate, PrefixString(d))
		}
		d.NamespaceID = p.NamespaceID
		np, err := closestParent(tx, d.NamespaceID, fieldsOf(d), d.ID)
		if err != nil {
			return err
		}
		d.ParentID = nil
		if np != nil {
			d.ParentID = &np.ID
		}
		err = tx.Model(&models.Prefix{}).Where("id = ?", d.ID).
			Updates(map[string]interface{}{"namespace_id": d.NamespaceID, "parent_id": d.ParentID}).Error
		if err != nil {
			return err
		}
		if err := reparentSubnets(tx, d, nil, false); err != nil {
			return err
		}
		if err := reparentIPs(tx, d, nil, false); err != nil {
			return err
		}
	}
	return nil
}
