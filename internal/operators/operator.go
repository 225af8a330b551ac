package operators

import "time"

// Operator is a registry identity. Color is optional until first colored
// listing, after which it stays stable unless explicitly changed.
type Operator struct {
	Username    string    `gorm:"column:username;primaryKey;size:190" json:"username"`
	DisplayName string    `gorm:"column:display_name;size:190;not null" json:"display_name"`
	ColorHex    string    `gorm:"column:color_hex;size:16" json:"color_hex,omitempty"`
	CreatedAt   time.Time `gorm:"column:created_at;not null" json:"created_at"`
}

// TableName provides the explicit table binding for GORM.
func (Operator) TableName() string {
	return "operators"
}
