package usage

import (
	"context"

	"cpau-backend/lib/apierr"
	"cpau-backend/lib/scrapers/cpauportal"
	"cpau-backend/lib/scrapers/watersmart"
)

// Directory looks meters up across both backends: the portal owns the
// meter inventory for every service type, watersmart only serves water
// consumption data.
type Directory struct {
	Portal *cpauportal.Client
	Water  *watersmart.Client
}

func (d Directory) ElectricMeters(ctx context.Context) ([]*ElectricMeter, error) {
	infos, err := d.Portal.Meters(ctx, cpauportal.MeterTypeElectric)
	if err != nil {
		return nil, err
	}
	meters := make([]*ElectricMeter, 0, len(infos))
	for _, info := range infos {
		meters = append(meters, &ElectricMeter{portal: d.Portal, info: info})
	}
	return meters, nil
}

// ElectricMeter returns the named electric meter, or the first active
// one when number is empty.
func (d Directory) ElectricMeter(ctx context.Context, number string) (*ElectricMeter, error) {
	info, err := d.Portal.Meter(ctx, cpauportal.MeterTypeElectric, number)
	if err != nil {
		return nil, err
	}
	return &ElectricMeter{portal: d.Portal, info: info}, nil
}

// WaterMeter returns the named water meter, or the first active one
// when number is empty. Identity comes from the portal inventory while
// readings come from watersmart.
func (d Directory) WaterMeter(ctx context.Context, number string) (*WaterMeter, error) {
	if d.Water == nil {
		return nil, apierr.New(apierr.KindMeterNotFound, "water backend not configured")
	}
	info, err := d.Portal.Meter(ctx, cpauportal.MeterTypeWater, number)
	if err != nil {
		return nil, err
	}
	return &WaterMeter{client: d.Water, info: info}, nil
}
