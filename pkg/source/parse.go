package source

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// MaxPrice is the largest amount a decimal(12,4) price column holds
const MaxPrice = 99999999.9999

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New()
		// finite amount in [0, MaxPrice]
		v.RegisterValidation("price", func(fl validator.FieldLevel) bool {
			if fl.Field().Kind() != reflect.Float64 && fl.Field().Kind() != reflect.Float32 {
				return false
			}
			f := fl.Field().Float()
			return !math.IsNaN(f) && !math.IsInf(f, 0) && f >= 0 && f <= MaxPrice
		})
		validate = v
	})
	return validate
}

// Validate checks a raw offer against the ingestion rules. Failures match
// ErrInvalidOffer.
func Validate(offer *RawOffer) error {
	if err := getValidator().Struct(offer); err != nil {
		return fmt.Errorf("%w %q: %w", ErrInvalidOffer, offer.InstanceType, err)
	}
	return nil
}

// ParseRawOffers decodes a loosely typed JSON payload into raw offers.
// Both {"offers": [...], "withdrawn": [...]} and a bare array are accepted;
// numeric fields may be JSON numbers or strings. Items that cannot be decoded
// are reported in Batch.Invalid and do not fail the payload.
func ParseRawOffers(payload []byte) (*Batch, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()

	var root interface{}
	if err := dec.Decode(&root); err != nil {
		return nil, fmt.Errorf("offer payload parse: %w", err)
	}

	batch := &Batch{}
	var items []interface{}

	switch v := root.(type) {
	case []interface{}:
		items = v
	case map[string]interface{}:
		list, ok := v["offers"].([]interface{})
		if !ok && v["offers"] != nil {
			return nil, fmt.Errorf("offer payload parse: offers is %T, want array", v["offers"])
		}
		items = list
		if withdrawn, ok := v["withdrawn"].([]interface{}); ok {
			for _, w := range withdrawn {
				if s, ok := w.(string); ok && strings.TrimSpace(s) != "" {
					batch.Withdrawn = append(batch.Withdrawn, strings.TrimSpace(s))
				}
			}
		}
	default:
		return nil, fmt.Errorf("offer payload parse: unexpected %T at top level", root)
	}

	for i, item := range items {
		obj, ok := item.(map[string]interface{})
		if !ok {
			batch.Invalid = append(batch.Invalid, InvalidOffer{Index: i, Reason: fmt.Sprintf("item is %T, want object", item)})
			continue
		}
		offer, err := decodeOffer(obj)
		if err != nil {
			batch.Invalid = append(batch.Invalid, InvalidOffer{Index: i, Reason: err.Error()})
			continue
		}
		batch.Offers = append(batch.Offers, offer)
	}

	return batch, nil
}

func decodeOffer(obj map[string]interface{}) (RawOffer, error) {
	var (
		o   RawOffer
		err error
	)

	o.Provider = str(obj, "provider")
	o.GPU = str(obj, "gpu", "gpu_model")
	o.InstanceType = str(obj, "instance_type", "name")
	o.Availability = strings.ToLower(str(obj, "availability", "availability_status"))

	if o.GPUCount, err = intField(obj, "gpu_count"); err != nil {
		return o, err
	}
	price, err := floatField(obj, "price", "price_per_hour")
	if err != nil {
		return o, err
	}
	if price == nil {
		return o, fmt.Errorf("price is missing")
	}
	o.Price = *price

	if o.SpotPrice, err = floatField(obj, "spot_price", "price_per_hour_spot"); err != nil {
		return o, err
	}
	if o.MinRentalHours, err = floatField(obj, "min_rental_hours"); err != nil {
		return o, err
	}
	if o.BillingIncrementSeconds, err = intField(obj, "billing_increment_seconds"); err != nil {
		return o, err
	}

	o.NVLink = boolField(obj, "nvlink")
	o.InfiniBand = boolField(obj, "infiniband")
	if o.NVLinkBandwidthGbps, err = optIntField(obj, "nvlink_bandwidth_gbps"); err != nil {
		return o, err
	}
	if o.InfiniBandBandwidthGbps, err = optIntField(obj, "infiniband_bandwidth_gbps"); err != nil {
		return o, err
	}

	if regions, ok := obj["regions"].([]interface{}); ok {
		for _, r := range regions {
			if s, ok := r.(string); ok && s != "" {
				o.Regions = append(o.Regions, s)
			}
		}
	}

	return o, nil
}

func str(obj map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		if v, ok := obj[k]; ok && v != nil {
			switch t := v.(type) {
			case string:
				return strings.TrimSpace(t)
			case json.Number:
				return t.String()
			}
		}
	}
	return ""
}

func floatField(obj map[string]interface{}, keys ...string) (*float64, error) {
	for _, k := range keys {
		v, ok := obj[k]
		if !ok || v == nil {
			continue
		}
		var (
			f   float64
			err error
		)
		switch t := v.(type) {
		case json.Number:
			f, err = strconv.ParseFloat(t.String(), 64)
		case string:
			s := strings.TrimPrefix(strings.TrimSpace(t), "$")
			if s == "" {
				continue
			}
			f, err = strconv.ParseFloat(s, 64)
		default:
			return nil, fmt.Errorf("%s has type %T", k, v)
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
		return &f, nil
	}
	return nil, nil
}

func intField(obj map[string]interface{}, key string) (int, error) {
	p, err := optIntField(obj, key)
	if err != nil || p == nil {
		return 0, err
	}
	return *p, nil
}

func optIntField(obj map[string]interface{}, key string) (*int, error) {
	f, err := floatField(obj, key)
	if err != nil || f == nil {
		return nil, err
	}
	if *f != math.Trunc(*f) || math.IsInf(*f, 0) || math.IsNaN(*f) {
		return nil, fmt.Errorf("%s is not an integer: %v", key, *f)
	}
	n := int(*f)
	return &n, nil
}

func boolField(obj map[string]interface{}, key string) bool {
	switch t := obj[key].(type) {
	case bool:
		return t
	case string:
		b, _ := strconv.ParseBool(t)
		return b
	}
	return false
}
