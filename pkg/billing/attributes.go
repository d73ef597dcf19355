package billing

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Legacy attribute keys used by stored records
const (
	AttrBillingPeriod       = "billing_period"
	AttrBillingFrequency    = "billing_frequency"
	AttrTotalBillingCycles  = "total_billing_cycles"
	AttrDomain              = "domain"
	AttrIntendedBillingDate = "intended_billing_date"
)

// ScheduleAttributes is the typed form of the schedule metadata stored with an occurrence.
// IntendedBillingDate is kept as stored text so unparseable values can be detected.
type ScheduleAttributes struct {
	Period              string
	Frequency           int
	TotalCycles         *int
	Domain              string
	IntendedBillingDate string
	// Extra holds keys this package does not interpret
	Extra map[string]string
}

// AttributesFromMap converts a legacy string-keyed bag into ScheduleAttributes.
// Numeric fields that do not parse are left unset.
func AttributesFromMap(m map[string]string) ScheduleAttributes {
	var a ScheduleAttributes
	for k, v := range m {
		v = strings.TrimSpace(v)
		switch k {
		case AttrBillingPeriod:
			a.Period = v
		case AttrBillingFrequency:
			if n, err := strconv.Atoi(v); err == nil {
				a.Frequency = n
			}
		case AttrTotalBillingCycles:
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				a.TotalCycles = &n
			}
		case AttrDomain:
			a.Domain = v
		case AttrIntendedBillingDate:
			a.IntendedBillingDate = v
		default:
			if a.Extra == nil {
				a.Extra = make(map[string]string)
			}
			a.Extra[k] = v
		}
	}
	return a
}

// ToMap converts the attributes back into the legacy string-keyed bag
func (a ScheduleAttributes) ToMap() map[string]string {
	m := make(map[string]string, len(a.Extra)+5)
	for k, v := range a.Extra {
		m[k] = v
	}
	if a.Period != "" {
		m[AttrBillingPeriod] = a.Period
	}
	if a.Frequency != 0 {
		m[AttrBillingFrequency] = strconv.Itoa(a.Frequency)
	}
	if a.TotalCycles != nil {
		m[AttrTotalBillingCycles] = strconv.Itoa(*a.TotalCycles)
	}
	if a.Domain != "" {
		m[AttrDomain] = a.Domain
	}
	if a.IntendedBillingDate != "" {
		m[AttrIntendedBillingDate] = a.IntendedBillingDate
	}
	return m
}

// Clone returns a deep copy
func (a ScheduleAttributes) Clone() ScheduleAttributes {
	c := a
	if a.TotalCycles != nil {
		n := *a.TotalCycles
		c.TotalCycles = &n
	}
	if a.Extra != nil {
		c.Extra = make(map[string]string, len(a.Extra))
		for k, v := range a.Extra {
			c.Extra[k] = v
		}
	}
	return c
}

// MarshalJSON stores the attributes as the legacy string-keyed object
func (a ScheduleAttributes) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.ToMap())
}

// UnmarshalJSON accepts legacy objects whose values may be strings, numbers or booleans
func (a *ScheduleAttributes) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to decode schedule attributes: %w", err)
	}

	m := make(map[string]string, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case nil:
			continue
		case string:
			m[k] = val
		case float64:
			m[k] = strconv.FormatFloat(val, 'f', -1, 64)
		default:
			m[k] = fmt.Sprint(val)
		}
	}
	*a = AttributesFromMap(m)
	return nil
}
