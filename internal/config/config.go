package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds application configuration
type Config struct {
	Server    ServerConfig
	Directory DirectoryConfig
	Discord   DiscordConfig
	Sync      SyncConfig
	Redis     RedisConfig
	RateLimit RateLimitConfig
}

type ServerConfig struct {
	Port         string
	Host         string
	AdminToken   string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DirectoryConfig covers both channels into LLDAP: the GraphQL/admin API
// behind LoginURL and the native LDAP port used only for password writes.
type DirectoryConfig struct {
	LoginURL     string // base URL of the LLDAP web API, e.g. https://ldap.example.com
	PublicURL    string // user-facing login URL shown in provisioning replies
	ServerURL    string // ldap:// or ldaps:// address for the password channel
	BindDN       string
	BindPassword string
	BaseDN       string
}

type DiscordConfig struct {
	BotToken    string
	GuildID     string
	ServiceName string
}

type SyncConfig struct {
	SubscriberRoleName string
	SubscribersGroupID int
	LifetimeRoleName   string
	LifetimeGroupID    int
	Interval           time.Duration
	UsernameMaxLength  int
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
}

type RateLimitConfig struct {
	Enabled       bool
	UseRedis      bool
	RPS           float64
	Burst         int
	WindowSeconds int
}

// LoadConfig loads configuration from environment variables and .env file
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	viper.AutomaticEnv()

	viper.SetDefault("SERVER_PORT", "5002")
	viper.SetDefault("SERVER_HOST", "0.0.0.0")
	viper.SetDefault("SERVICE_NAME", "Slothflix")
	viper.SetDefault("SYNC_INTERVAL_MINUTES", 10)
	viper.SetDefault("USERNAME_MAX_LENGTH", 20)
	viper.SetDefault("RATE_LIMIT_RPS", 1.0)
	viper.SetDefault("RATE_LIMIT_BURST", 3)
	viper.SetDefault("RATE_LIMIT_WINDOW_SECONDS", 10)

	var missing []string
	need := func(key string) string {
		v := os.Getenv(key)
		if v == "" {
			missing = append(missing, key)
		}
		return v
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:         viper.GetString("SERVER_PORT"),
			Host:         viper.GetString("SERVER_HOST"),
			AdminToken:   os.Getenv("ADMIN_TOKEN"),
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Directory: DirectoryConfig{
			LoginURL:     need("LLDAP_LOGIN_URL"),
			PublicURL:    viper.GetString("PUBLIC_URL"),
			ServerURL:    need("LDAP_SERVER_URL"),
			BindDN:       need("LDAP_BIND_DN"),
			BindPassword: need("LDAP_BIND_PASSWORD"),
			BaseDN:       need("LDAP_BASE_DN"),
		},
		Discord: DiscordConfig{
			BotToken:    need("DISCORD_BOT_TOKEN"),
			GuildID:     viper.GetString("DISCORD_GUILD_ID"),
			ServiceName: viper.GetString("SERVICE_NAME"),
		},
		Sync: SyncConfig{
			SubscriberRoleName: viper.GetString("SUBSCRIBER_ROLE_NAME"),
			SubscribersGroupID: viper.GetInt("SUBSCRIBERS_GROUP_ID"),
			LifetimeRoleName:   viper.GetString("LIFETIME_ROLE_NAME"),
			LifetimeGroupID:    viper.GetInt("LIFETIME_GROUP_ID"),
			Interval:           time.Duration(viper.GetInt("SYNC_INTERVAL_MINUTES")) * time.Minute,
			UsernameMaxLength:  viper.GetInt("USERNAME_MAX_LENGTH"),
		},
		Redis: RedisConfig{
			Host:     viper.GetString("REDIS_HOST"),
			Port:     viper.GetString("REDIS_PORT"),
			Password: os.Getenv("REDIS_PASSWORD"),
		},
		RateLimit: RateLimitConfig{
			Enabled:       viper.GetBool("RATE_LIMIT_ENABLED"),
			UseRedis:      viper.GetBool("RATE_LIMIT_USE_REDIS"),
			RPS:           viper.GetFloat64("RATE_LIMIT_RPS"),
			Burst:         viper.GetInt("RATE_LIMIT_BURST"),
			WindowSeconds: viper.GetInt("RATE_LIMIT_WINDOW_SECONDS"),
		},
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	if cfg.Sync.SubscriberRoleName == "" || cfg.Sync.SubscribersGroupID == 0 {
		return nil, fmt.Errorf("SUBSCRIBER_ROLE_NAME and SUBSCRIBERS_GROUP_ID are required")
	}

	return cfg, nil
}

// BindUsername extracts the username from the bind DN, e.g.
// "uid=admin,ou=people,dc=example,dc=com" → "admin". The GraphQL login
// endpoint wants the bare username, not the DN.
func (c *Config) BindUsername() (string, error) {
	for _, part := range strings.Split(c.Directory.BindDN, ",") {
		part = strings.TrimSpace(part)
		if strings.HasPrefix(part, "uid=") {
			return strings.TrimPrefix(part, "uid="), nil
		}
	}
	return "", fmt.Errorf("could not extract username from LDAP_BIND_DN %q", c.Directory.BindDN)
}
