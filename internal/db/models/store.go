package models

// Store is one store-scope of the synced shop, seeded from the service
// configuration. WebsiteID links it into the scope resolution chain.
type Store struct {
	ID        uint   `gorm:"primaryKey" json:"id"`
	Code      string `gorm:"uniqueIndex" json:"code"`
	WebsiteID uint   `json:"website_id"`
}
