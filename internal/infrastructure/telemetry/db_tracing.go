package telemetry

import (
	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"gorm.io/gorm"
)

// RegisterGormTracing adds otelgorm spans to every query on db.
// Query variables are left out of the spans since job payloads hold hashed PII.
func RegisterGormTracing(db *gorm.DB) error {
	return db.Use(otelgorm.NewPlugin(
		otelgorm.WithDBName("postgresql"),
		otelgorm.WithoutQueryVariables(),
	))
}
