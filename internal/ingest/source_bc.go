package ingest

import (
	"context"

	"github.com/david/childcare-leads/internal/models"
)

const bcDatasetURL = "https://catalogue.data.gov.bc.ca/dataset/child-care-map-data"

// BCStrategy reads the BC child care map CSV.
type BCStrategy struct{}

func (BCStrategy) Fetch(ctx context.Context, config SourceConfig, env Env) (SourceResult, error) {
	urls := append([]string{config.URL}, config.FallbackURLs...)
	today := env.now().Format(isoDate)

	return runTableSource(ctx, config, env, urls, func(t *Table) rowMapper {
		var (
			name        = t.Column("NAME", "Facility Name", "FACILITY_NAME")
			address     = t.Column("ADDRESS", "Street Address", "STREET_ADDRESS")
			city        = t.Column("CITY", "MUNICIPALITY")
			postal      = t.Column("POSTAL_CODE", "PostalCode")
			phone       = t.Column("PHONE", "TELEPHONE")
			email       = t.Column("EMAIL")
			capacity    = t.Column("CAPACITY", "Total Capacity", "TOTAL_CAPACITY")
			serviceType = t.Column("SERVICE_TYPE", "Type", "FACILITY_TYPE")
			license     = t.Column("LICENSE_NUMBER", "Licence Number")
		)

		return func(row []string) (models.RawRecord, bool) {
			facility := t.Value(row, name)
			if facility == "" {
				return models.RawRecord{}, false
			}
			street := t.Value(row, address)
			if street != "" {
				street = appendPostcode(street, t.Value(row, postal))
			}
			return models.RawRecord{
				Name:           facility,
				Address:        street,
				City:           t.Value(row, city),
				Province:       firstNonEmpty(config.Province, "British Columbia"),
				Country:        firstNonEmpty(config.Country, "Canada"),
				Capacity:       capacityCell(t.Value(row, capacity)),
				LicenseNumber:  t.Value(row, license),
				LicenseStatus:  "issued",
				Phone:          t.Value(row, phone),
				Email:          t.Value(row, email),
				DiscoveredDate: today,
				Source:         config.Name,
				SourceURL:      bcDatasetURL,
				Type:           "new",
				Notes:          joinNotes([2]string{"Service type", t.Value(row, serviceType)}),
			}, true
		}
	})
}
