package config

import (
	"errors"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// CheckoutCatalog describes the single product sold through hosted checkout.
type CheckoutCatalog struct {
	ProductName string `mapstructure:"productName"`
	Amount      int64  `mapstructure:"amount"`
	Currency    string `mapstructure:"currency"`
}

func DefaultCheckoutCatalog() CheckoutCatalog {
	return CheckoutCatalog{
		ProductName: "Test Product",
		Amount:      2000,
		Currency:    "usd",
	}
}

type CheckoutCatalogHolder struct {
	current atomic.Value // holds CheckoutCatalog
}

// NewStaticCheckoutCatalog returns a holder that never reloads.
func NewStaticCheckoutCatalog(catalog CheckoutCatalog) *CheckoutCatalogHolder {
	holder := &CheckoutCatalogHolder{}
	holder.current.Store(normalizeCatalog(catalog))
	return holder
}

func NewCheckoutCatalogHolder(log *zap.Logger) (*CheckoutCatalogHolder, error) {
	log = log.Named("config.checkout")
	v := viper.New()

	v.SetConfigName("checkout")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/paydesk")
	v.AddConfigPath(".")

	v.SetEnvPrefix("PAYDESK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultCheckoutCatalog()
	v.SetDefault("checkout.productName", defaults.ProductName)
	v.SetDefault("checkout.amount", defaults.Amount)
	v.SetDefault("checkout.currency", defaults.Currency)

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileLoaded = false
	}

	var catalog CheckoutCatalog
	if err := v.UnmarshalKey("checkout", &catalog); err != nil {
		return nil, err
	}
	catalog = normalizeCatalog(catalog)
	if err := validateCheckoutCatalog(catalog); err != nil {
		return nil, err
	}

	holder := &CheckoutCatalogHolder{}
	holder.current.Store(catalog)

	if !fileLoaded {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated CheckoutCatalog
		if err := v.UnmarshalKey("checkout", &updated); err != nil {
			log.Warn("checkout catalog reload failed", zap.Error(err))
			return
		}
		updated = normalizeCatalog(updated)
		if err := validateCheckoutCatalog(updated); err != nil {
			log.Warn("invalid checkout catalog ignored", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("checkout catalog reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

func (h *CheckoutCatalogHolder) Get() CheckoutCatalog {
	return h.current.Load().(CheckoutCatalog)
}

func normalizeCatalog(c CheckoutCatalog) CheckoutCatalog {
	c.ProductName = strings.TrimSpace(c.ProductName)
	c.Currency = strings.ToLower(strings.TrimSpace(c.Currency))
	return c
}

func validateCheckoutCatalog(c CheckoutCatalog) error {
	if c.ProductName == "" {
		return errors.New("checkout.productName cannot be empty")
	}
	if c.Amount <= 0 {
		return errors.New("checkout.amount must be positive")
	}
	if len(c.Currency) != 3 {
		return errors.New("checkout.currency must be a 3 letter code")
	}
	return nil
}
