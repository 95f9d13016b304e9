package models

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Namespace — граница изоляции адресного пространства. Уникальность и
// containment префиксов/адресов всегда считаются внутри одного namespace.
type Namespace struct {
	gorm.Model
	UUID        string `gorm:"type:char(36);uniqueIndex"`
	Name        string `gorm:"type:varchar(255);uniqueIndex"`
	Description string `gorm:"type:varchar(255)"`
	Location    string `gorm:"type:varchar(255)"`
}

func (n *Namespace) BeforeCreate(*gorm.DB) error {
	if n.UUID == "" {
		n.UUID = uuid.NewString()
	}
	return nil
}

const (
	PrefixTypeContainer = "container"
	PrefixTypeNetwork   = "network"
	PrefixTypePool      = "pool"
)

// Prefix — CIDR-блок (v4/v6) с позицией в дереве containment своего namespace.
// Network/Broadcast хранятся как 16-байтовые big-endian значения (v4 дополнен
// нулями слева), чтобы range-запросы шли обычным сравнением байтов.
// Broadcast — всегда ПОСЛЕДНИЙ адрес блока: для /31 и /127 это второй адрес
// (настоящего broadcast у point-to-point нет), для /32 и /128 network ==
// broadcast. Иначе containment-сравнения ломаются на вырожденных длинах.
type Prefix struct {
	gorm.Model
	UUID         string `gorm:"type:char(36);uniqueIndex"`
	NamespaceID  uint   `gorm:"index;uniqueIndex:ux_prefix_space,priority:1"`
	Network      []byte `gorm:"size:16;uniqueIndex:ux_prefix_space,priority:2"`
	Broadcast    []byte `gorm:"size:16;index"`
	PrefixLength int    `gorm:"uniqueIndex:ux_prefix_space,priority:3"`
	IPVersion    int    `gorm:"index"` // 4|6, производное от Network
	Type         string `gorm:"type:varchar(16);default:network"`
	ParentID     *uint  `gorm:"index"`
	Status       string `gorm:"type:varchar(32);default:active"`
	Role         string `gorm:"type:varchar(64)"`
	Tenant       string `gorm:"type:varchar(64)"`
	Description  string `gorm:"type:varchar(255)"`
}

func (p *Prefix) BeforeCreate(*gorm.DB) error {
	if p.UUID == "" {
		p.UUID = uuid.NewString()
	}
	return nil
}

// IPAddress — одиночный адрес с маской, лист дерева. Parent — самый
// специфичный префикс namespace, содержащий Host. Host неизменяем после
// создания. Уникальность (parent_id, host), т.е. per-prefix/per-namespace.
type IPAddress struct {
	gorm.Model
	UUID        string `gorm:"type:char(36);uniqueIndex"`
	Host        []byte `gorm:"size:16;uniqueIndex:ux_ip_parent_host,priority:2"`
	MaskLength  int
	IPVersion   int   `gorm:"index"`
	ParentID    *uint `gorm:"index;uniqueIndex:ux_ip_parent_host,priority:1"`
	NATInsideID *uint `gorm:"index"`
	Status      string `gorm:"type:varchar(32);default:active"`
	Role        string `gorm:"type:varchar(64)"`
	Tenant      string `gorm:"type:varchar(64)"`
	DNSName     string `gorm:"type:varchar(255)"`
	Description string `gorm:"type:varchar(255)"`
}

func (ip *IPAddress) BeforeCreate(*gorm.DB) error {
	if ip.UUID == "" {
		ip.UUID = uuid.NewString()
	}
	return nil
}

// VRF — routing table reference. Привязка к префиксам блокирует перенос
// их поддерева в другой namespace (иначе ассоциации молча порвутся).
type VRF struct {
	gorm.Model
	UUID               string `gorm:"type:char(36);uniqueIndex"`
	Name               string `gorm:"type:varchar(255);index"`
	RouteDistinguisher string `gorm:"column:rd;type:varchar(64);uniqueIndex"`
	NamespaceID        uint   `gorm:"index"`
	Description        string `gorm:"type:varchar(255)"`
}

func (v *VRF) BeforeCreate(*gorm.DB) error {
	if v.UUID == "" {
		v.UUID = uuid.NewString()
	}
	return nil
}

type VRFPrefixAssignment struct {
	gorm.Model
	VRFID    uint `gorm:"index;uniqueIndex:ux_vrf_prefix,priority:1"`
	PrefixID uint `gorm:"index;uniqueIndex:ux_vrf_prefix,priority:2"`
}
