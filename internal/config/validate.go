package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New()
		// Report json keys so messages match the file.
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
			if name == "-" {
				return ""
			}
			return name
		})
		v.RegisterCustomTypeFunc(func(f reflect.Value) any {
			d, ok := f.Interface().(decimal.Decimal)
			if !ok {
				return nil
			}
			return d.InexactFloat64()
		}, decimal.Decimal{})
		validate = v
	})
	return validate
}

// missing returns the failing fields of s as "prefix.field".
func missing(prefix string, s any) []string {
	err := structValidator().Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []string{prefix}
	}
	out := make([]string, 0, len(verrs))
	for _, e := range verrs {
		out = append(out, prefix+"."+e.Field())
	}
	return out
}

// Missing lists required Twitch fields that are empty.
func (s TwitchSettings) Missing() []string { return missing("twitch", s) }

// Missing lists required Tiltify fields that are empty.
func (s TiltifySettings) Missing() []string { return missing("tiltify", s) }

func (s TelegramSettings) Missing() []string { return missing("telegram", s) }

// Missing lists invalid prize fields (empty names, non-positive threshold).
func (p PrizeEntry) Missing() []string { return missing("prize", p) }

// Validate rejects configs that cannot be applied at all. Missing service
// credentials are not fatal; the dependent service just stays off.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if _, err := c.Resolve(); err != nil {
		return err
	}
	switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
	case "", "file", "sqlite", "none", "off":
	default:
		return fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver)
	}
	return nil
}
