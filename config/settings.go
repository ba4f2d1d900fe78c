package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Settings is the immutable photo-ID configuration, read from the
// environment exactly once in main() and passed down explicitly. Nothing
// else in the codebase reads PHOTOID_* env vars directly.
type Settings struct {
	Enabled bool

	// Upload admission.
	MaxUploadBytes    int64    `validate:"gt=0"`
	AllowedTypes      []string `validate:"min=1"`
	ExemptCategoryIDs []int
	ExemptProductIDs  []int

	// When true, an order that requires an ID cannot be finalized without a
	// consumable staged upload. When false, the order is created anyway and
	// the failure is recorded on the ledger for staff follow-up.
	BlockIfMissing bool

	// Storage.
	SecureDir  string `validate:"required"`
	StagingDir string `validate:"required"`
	StagingTTL time.Duration

	// Retention. 0 means retain indefinitely.
	RetentionDays int `validate:"gte=0"`

	// Customer re-upload tokens.
	TokenTTL time.Duration

	// Notifications.
	AdminNotification bool
	LogAccess         bool
	AdminEmail        string
	SiteTitle         string
	BaseURL           string `validate:"required"`
	RequestSubject    string
	RequestHeading    string

	// SMTP.
	SMTPHost string
	SMTPPort int
	SMTPUser string
	SMTPPass string
	MailFrom string
}

func init() {
	godotenv.Load()
}

// LoadSettings builds and validates the Settings struct from the
// environment. Defaults: JPG/PNG only, 2 MiB cap, 24h staging window,
// 7-day re-upload tokens, 90-day retention.
func LoadSettings() (Settings, error) {
	s := Settings{
		Enabled:           envBool("PHOTOID_ENABLE", true),
		MaxUploadBytes:    int64(envInt("PHOTOID_MAX_SIZE_MB", 2)) * 1024 * 1024,
		AllowedTypes:      envList("PHOTOID_ALLOWED_TYPES", []string{"image/jpeg", "image/png"}),
		ExemptCategoryIDs: envIntList("PHOTOID_EXEMPT_CATEGORIES"),
		ExemptProductIDs:  envIntList("PHOTOID_EXEMPT_PRODUCTS"),
		BlockIfMissing:    envBool("PHOTOID_BLOCK_IF_MISSING", true),
		SecureDir:         envString("PHOTOID_SECURE_DIR", "secure-uploads/customer-id"),
		StagingDir:        envString("PHOTOID_STAGING_DIR", "secure-uploads/photoid-temp"),
		StagingTTL:        time.Duration(envInt("PHOTOID_STAGING_TTL_HOURS", 24)) * time.Hour,
		RetentionDays:     envInt("PHOTOID_RETENTION_DAYS", 90),
		TokenTTL:          time.Duration(envInt("PHOTOID_TOKEN_TTL_DAYS", 7)) * 24 * time.Hour,
		AdminNotification: envBool("PHOTOID_ADMIN_NOTIFICATION", true),
		LogAccess:         envBool("PHOTOID_LOG_ACCESS", true),
		AdminEmail:        envString("PHOTOID_ADMIN_EMAIL", ""),
		SiteTitle:         envString("SITE_TITLE", "Store"),
		BaseURL:           envString("BASE_URL", "http://localhost:8080"),
		RequestSubject:    envString("PHOTOID_REQUEST_SUBJECT", ""),
		RequestHeading:    envString("PHOTOID_REQUEST_HEADING", ""),
		SMTPHost:          envString("SMTP_HOST", ""),
		SMTPPort:          envInt("SMTP_PORT", 587),
		SMTPUser:          envString("SMTP_USER", ""),
		SMTPPass:          envString("SMTP_PASSWORD", ""),
		MailFrom:          envString("MAIL_FROM", "no-reply@localhost"),
	}

	if err := validator.New().Struct(s); err != nil {
		return Settings{}, fmt.Errorf("invalid photo-id settings: %w", err)
	}
	return s, nil
}

func envString(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envBool(key string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if v == "" {
		return def
	}
	return v == "1" || v == "true" || v == "yes" || v == "y"
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envList(key string, def []string) []string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, strings.ToLower(part))
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}

func envIntList(key string) []int {
	var out []int
	for _, part := range strings.Split(os.Getenv(key), ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if n, err := strconv.Atoi(part); err == nil {
			out = append(out, n)
		}
	}
	return out
}
