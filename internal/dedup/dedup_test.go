package dedup

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/david/childcare-leads/internal/models"
)

type fakeSeeds struct {
	licenses  []string
	addresses []string
	err       error
	calls     int
}

func (f *fakeSeeds) ExistingLicenseNumbers(context.Context) ([]string, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.licenses, nil
}

func (f *fakeSeeds) ExistingAddresses(context.Context) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.addresses, nil
}

func rec(name, address, license string) models.Opportunity {
	return models.Opportunity{Name: name, Address: address, LicenseNumber: license}
}

func TestCheckPriorityOrder(t *testing.T) {
	seeds := &fakeSeeds{licenses: []string{"L-1"}, addresses: []string{"1 Main St"}}
	d := New(seeds, nil, DefaultOptions())
	ctx := context.Background()

	// A known license wins over an exact address hit.
	assert.Equal(t, ReasonLicense, d.Check(ctx, rec("Any", "1 Main St", "L-1")))
	assert.Equal(t, ReasonFuzzyAddress, d.Check(ctx, rec("Other", "1 main st", "L-2")))
	assert.Equal(t, ReasonNone, d.Check(ctx, rec("Fresh", "99 Elm Road", "")))
	assert.Equal(t, ReasonNameAddress, d.Check(ctx, rec(" fresh ", "99 ELM ROAD", "")))
}

func TestLicenseAddedEvenWhenRecordDropped(t *testing.T) {
	d := New(nil, nil, DefaultOptions())
	ctx := context.Background()

	require.Equal(t, ReasonNone, d.Check(ctx, rec("A", "5 Oak Ave", "")))
	require.Equal(t, ReasonNameAddress, d.Check(ctx, rec("A", "5 Oak Ave", "L-9")))
	assert.Equal(t, ReasonLicense, d.Check(ctx, rec("B", "elsewhere", "L-9")))
}

func TestRemoveDuplicatesBreakdown(t *testing.T) {
	seeds := &fakeSeeds{licenses: []string{"SEEN"}}
	d := New(seeds, nil, DefaultOptions())

	in := []models.Opportunity{
		rec("Alpha", "123 Main Street Toronto", "A1"),
		rec("Beta", "Main Street 123 Toronto", "B1"),
		rec("Gamma", "7 Bay St", "SEEN"),
		rec("Alpha", "123 Main Street Toronto", ""),
		rec("Delta", "", ""),
		rec("Epsilon", "", ""),
	}
	res := d.RemoveDuplicates(context.Background(), in)

	names := make([]string, 0, len(res.Records))
	for _, o := range res.Records {
		names = append(names, o.Name)
	}
	assert.Equal(t, []string{"Alpha", "Delta", "Epsilon"}, names)
	assert.Equal(t, models.DuplicateBreakdown{License: 1, NameAddress: 1, FuzzyAddress: 1}, res.Duplicates)
	assert.Equal(t, 3, res.Duplicates.Total())
}

func TestSeedingHappensOnce(t *testing.T) {
	seeds := &fakeSeeds{licenses: []string{"X"}}
	d := New(seeds, nil, DefaultOptions())
	ctx := context.Background()

	d.RemoveDuplicates(ctx, []models.Opportunity{rec("a", "", "")})
	d.RemoveDuplicates(ctx, []models.Opportunity{rec("b", "", "")})
	assert.Equal(t, 1, seeds.calls)
}

func TestSeedFailureFallsBackToEmptySets(t *testing.T) {
	seeds := &fakeSeeds{err: errors.New("sheet unavailable")}
	d := New(seeds, nil, DefaultOptions())
	ctx := context.Background()

	res := d.RemoveDuplicates(ctx, []models.Opportunity{rec("a", "1 A St", "L"), rec("b", "2 B St", "M")})
	assert.Len(t, res.Records, 2)

	d.RemoveDuplicates(ctx, nil)
	assert.Equal(t, 1, seeds.calls)
}

func TestLargeSeenSetUsesExactMatchOnly(t *testing.T) {
	addresses := make([]string, 0, 1001)
	addresses = append(addresses, "10 Main Street Toronto")
	for i := 0; i < 1000; i++ {
		addresses = append(addresses, fmt.Sprintf("unit %d warehouse road", i))
	}
	d := New(&fakeSeeds{addresses: addresses}, nil, DefaultOptions())
	ctx := context.Background()

	assert.Equal(t, ReasonNone, d.Check(ctx, rec("Near", "10 Main Streat Toronto", "")))
	assert.Equal(t, ReasonFuzzyAddress, d.Check(ctx, rec("Exact", "10 main street toronto", "")))
}

func TestSmallSeenSetMatchesNearMiss(t *testing.T) {
	d := New(&fakeSeeds{addresses: []string{"10 Main Street Toronto"}}, nil, DefaultOptions())
	assert.Equal(t, ReasonFuzzyAddress, d.Check(context.Background(), rec("Near", "10 Main Streat Toronto", "")))
}

func TestFuzzyThresholdBoundary(t *testing.T) {
	tests := []struct {
		name string
		seen string
		next string
		want Reason
	}{
		{"ratio 90 is a duplicate", "10 King St", "10 Kong St", ReasonFuzzyAddress},
		{"ratio 89 is kept", "1 King St", "1 Kong St", ReasonNone},
		{"suffix added", "10 Main St Toronto", "10 Main St Toronto ON", ReasonFuzzyAddress},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := New(nil, nil, DefaultOptions())
			ctx := context.Background()
			require.Equal(t, ReasonNone, d.Check(ctx, rec("First", tt.seen, "")))
			assert.Equal(t, tt.want, d.Check(ctx, rec("Second", tt.next, "")))
		})
	}
}

func TestDedupeWithinBatch(t *testing.T) {
	in := []models.Opportunity{
		{Name: "Sun", Address: "1 A St", City: "Toronto", LicenseNumber: "L1", Notes: "first"},
		{Name: " SUN ", Address: "1 a st", City: "toronto ", LicenseNumber: "l1", Notes: "second"},
		{Name: "Moon", Address: "1 A St", City: "Toronto", LicenseNumber: "L1"},
	}
	out := DedupeWithinBatch(in)
	require.Len(t, out, 2)
	assert.Equal(t, "first", out[0].Notes)
	assert.Equal(t, "Moon", out[1].Name)
}
