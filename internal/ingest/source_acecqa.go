package ingest

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/david/childcare-leads/internal/models"
)

// ACECQAStrategy finds the approved services register on the national
// registers page and reads it.
type ACECQAStrategy struct{}

func (ACECQAStrategy) Fetch(ctx context.Context, config SourceConfig, env Env) (SourceResult, error) {
	urls := config.FallbackURLs
	if env.Links != nil {
		link, err := env.Links.FindDownloadLink(ctx, config.URL)
		switch {
		case err == nil:
			urls = append([]string{link}, urls...)
		case ctx.Err() != nil:
			return SourceResult{}, ctx.Err()
		default:
			env.logger().Warn("register link lookup failed", zap.String("page", config.URL), zap.Error(err))
			if len(urls) == 0 {
				status := models.SourceStatus{
					Name:      config.Name,
					Type:      "CSV",
					Status:    models.SourceStatusError,
					Error:     err.Error(),
					CheckedAt: env.now(),
				}
				return SourceResult{Status: status}, fmt.Errorf("acecqa: %w", err)
			}
		}
	}

	today := env.now().Format(isoDate)
	return runTableSource(ctx, config, env, urls, func(t *Table) rowMapper {
		var (
			name     = t.Column("Service Name", "SERVICE_NAME", "Name", "Approved Provider", "Provider Name")
			address  = t.Column("Address", "Street Address", "Service Address", "Physical Address")
			suburb   = t.Column("Suburb", "City", "Locality")
			state    = t.Column("State", "State/Territory")
			postcode = t.Column("Postcode", "Post Code", "Postal Code")
			phone    = t.Column("Phone", "Contact Phone", "Telephone")
			email    = t.Column("Email", "Contact Email")
			service  = t.Column("Service Type", "Care Type")
			rating   = t.Column("Overall Rating", "Quality Rating", "Quality Area Rating")
			approval = t.Column("Approval Number", "SE Number", "Service Approval Number", "Approval No")
			places   = t.Column("Approved Places", "APPROVED_PLACES", "Capacity", "Maximum Approved Places")
		)

		return func(row []string) (models.RawRecord, bool) {
			serviceName := t.Value(row, name)
			if serviceName == "" {
				return models.RawRecord{}, false
			}
			city := t.Value(row, suburb)
			region := t.Value(row, state)

			var parts []string
			for _, p := range []string{t.Value(row, address), city, region, t.Value(row, postcode)} {
				if p != "" {
					parts = append(parts, p)
				}
			}

			return models.RawRecord{
				Name:           serviceName,
				Address:        strings.Join(parts, ", "),
				City:           city,
				Province:       region,
				Country:        firstNonEmpty(config.Country, "Australia"),
				Capacity:       capacityCell(t.Value(row, places)),
				LicenseNumber:  t.Value(row, approval),
				LicenseStatus:  "approved",
				Phone:          t.Value(row, phone),
				Email:          t.Value(row, email),
				DiscoveredDate: today,
				Source:         config.Name,
				SourceURL:      config.URL,
				Type:           "new",
				Notes: joinNotes(
					[2]string{"Service type", t.Value(row, service)},
					[2]string{"Rating", t.Value(row, rating)},
				),
			}, true
		}
	})
}
