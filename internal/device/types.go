package device

import (
	"time"

	"github.com/nerrad567/gray-logic-cast/internal/infrastructure/database"
)

// Receiver represents a Cast receiver sighted on the local network.
// This matches the cast_receivers schema declared in Migrations.
type Receiver struct {
	// UUID is the receiver identifier from its mDNS TXT record.
	UUID string `json:"uuid"`

	// Name is the friendly name advertised by the receiver.
	Name string `json:"name"`

	// Model is the hardware model, when advertised.
	Model string `json:"model,omitempty"`

	// IPAddress is the last known IPv4 address. Receivers on DHCP move;
	// every sighting refreshes this.
	IPAddress string `json:"ip_address"`

	// Port is the control-channel port, normally 8009.
	Port int `json:"port"`

	// FirstSeen is when this receiver was first sighted.
	FirstSeen time.Time `json:"first_seen"`

	// LastSeen is when this receiver was most recently sighted.
	LastSeen time.Time `json:"last_seen"`
}

// Valid reports whether the receiver record is complete enough to persist
// and connect to.
func (r Receiver) Valid() bool {
	return r.UUID != "" && r.IPAddress != "" && r.Port > 0
}

// Migrations returns the schema migrations owned by this package.
func Migrations() []database.Migration {
	return []database.Migration{
		{
			Version: "20260315_100000",
			Name:    "create_cast_receivers",
			UpSQL: `
				CREATE TABLE cast_receivers (
					uuid TEXT PRIMARY KEY,
					name TEXT NOT NULL,
					model TEXT NOT NULL DEFAULT '',
					ip_address TEXT NOT NULL,
					port INTEGER NOT NULL,
					first_seen TEXT NOT NULL,
					last_seen TEXT NOT NULL
				);
				CREATE INDEX idx_cast_receivers_last_seen ON cast_receivers(last_seen);
			`,
			DownSQL: `DROP TABLE cast_receivers;`,
		},
	}
}
