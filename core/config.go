package core

import (
	"fmt"
	"log"
	"net"
	"net/mail"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type (
	Config struct {
		Env             string
		Build           string
		Debug           bool
		TestMode        bool
		AppName         string
		SecretKey       string
		WorkDir         string
		FrontendBaseURL string

		Server   ServerConfig
		Database DatabaseConfig
		Storage  StorageConfig
		Redis    RedisConfig
		OTP      OTPConfig

		RollbarToken     string
		SendgridApiKey   string
		defaultFromEmail string
	}

	ServerConfig struct {
		Host                      string
		Port                      string
		DebugHost                 string
		ShutdownTimeout           time.Duration
		JWTExpirationDelta        time.Duration
		JWTRefreshExpirationDelta time.Duration
	}

	DatabaseConfig struct {
		Engine        string // postgres | firestore | memory
		Host          string
		Port          string
		Name          string
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		DisableTLS    bool

		FirestoreProject string
		CollectionPrefix string
	}

	StorageConfig struct {
		Backend string // gcs | memory
		Bucket  string
		Prefix  string
		BaseURL string
	}

	RedisConfig struct {
		Addr     string
		Password string
		DB       int
	}

	OTPConfig struct {
		Length int
		TTL    time.Duration
	}
)

func (c DatabaseConfig) Address() string {
	return net.JoinHostPort(c.Host, c.Port)
}

func (c ServerConfig) Address() string {
	return net.JoinHostPort(c.Host, c.Port)
}

func (c Config) DefaultFromEmail() mail.Address {
	addr, err := mail.ParseAddress(c.defaultFromEmail)
	if err != nil {
		return mail.Address{Name: c.AppName, Address: "noreply@localhost"}
	}
	return *addr
}

// NewConfig loads the configuration from the environment.
// ENV selects the environment (DEV by default) and the env prefix; a matching
// config/.env.<env> file is loaded first when it exists.
func NewConfig() *Config {
	conf := viper.New()

	// defaults
	conf.SetTypeByDefaultValue(true)
	conf.SetDefault("debug", true)
	conf.SetDefault("testMode", false)
	conf.SetDefault("build", "develop")
	conf.SetDefault("appName", "Enrol")
	conf.SetDefault("secretKey", "poq5-wer)enb$+57=dz&uoxh2(h!x)#*c2(#yg4h^$cegm2emy")
	conf.SetDefault("frontendBaseURL", "http://localhost:3000")
	conf.SetDefault("defaultFromEmail", "Enrol <noreply@localhost>")
	conf.SetDefault("rollbarToken", "")
	conf.SetDefault("sendgridApiKey", "")

	conf.SetDefault("serverHost", "")
	conf.SetDefault("serverPort", "8000")
	conf.SetDefault("serverDebugHost", "localhost:4000")
	conf.SetDefault("serverShutdownTimeout", 5*time.Second)
	conf.SetDefault("jwtExpirationDelta", 7*24*time.Hour)
	conf.SetDefault("jwtRefreshExpirationDelta", 4*time.Hour)

	conf.SetDefault("dbEngine", "memory")
	conf.SetDefault("dbHost", "localhost")
	conf.SetDefault("dbPort", "5432")
	conf.SetDefault("dbName", "enrol")
	conf.SetDefault("dbUser", "enrol")
	conf.SetDefault("dbPassword", "")
	conf.SetDefault("dbAdminUser", "postgres")
	conf.SetDefault("dbAdminPassword", "")
	conf.SetDefault("dbDisableTLS", true)
	conf.SetDefault("firestoreProject", "")
	conf.SetDefault("collectionPrefix", "")

	conf.SetDefault("storageBackend", "memory")
	conf.SetDefault("storageBucket", "")
	conf.SetDefault("storagePrefix", "documents/")
	conf.SetDefault("storageBaseURL", "https://storage.googleapis.com")

	conf.SetDefault("redisAddr", "")
	conf.SetDefault("redisPassword", "")
	conf.SetDefault("redisDB", 0)

	conf.SetDefault("otpLength", 6)
	conf.SetDefault("otpTTL", 10*time.Minute)

	env := strings.ToUpper(os.Getenv("ENV")) // DEV (local; default), TEST, QA, PROD
	if env == "" {
		env = "DEV"
	}
	if env == "TEST" {
		conf.SetDefault("testMode", true)
	}
	conf.SetEnvPrefix(env)

	// load .env if it exists (ignore if it does not)
	dotEnvPath := filepath.Join(Getwd(), "config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}
	conf.AutomaticEnv()

	return &Config{
		Env:             env,
		Build:           conf.GetString("build"),
		Debug:           conf.GetBool("debug"),
		TestMode:        conf.GetBool("testMode"),
		AppName:         conf.GetString("appName"),
		SecretKey:       conf.GetString("secretKey"),
		WorkDir:         Getwd(),
		FrontendBaseURL: conf.GetString("frontendBaseURL"),
		Server: ServerConfig{
			Host:                      conf.GetString("serverHost"),
			Port:                      conf.GetString("serverPort"),
			DebugHost:                 conf.GetString("serverDebugHost"),
			ShutdownTimeout:           conf.GetDuration("serverShutdownTimeout"),
			JWTExpirationDelta:        conf.GetDuration("jwtExpirationDelta"),
			JWTRefreshExpirationDelta: conf.GetDuration("jwtRefreshExpirationDelta"),
		},
		Database: DatabaseConfig{
			Engine:           conf.GetString("dbEngine"),
			Host:             conf.GetString("dbHost"),
			Port:             conf.GetString("dbPort"),
			Name:             conf.GetString("dbName"),
			User:             conf.GetString("dbUser"),
			Password:         conf.GetString("dbPassword"),
			AdminUser:        conf.GetString("dbAdminUser"),
			AdminPassword:    conf.GetString("dbAdminPassword"),
			DisableTLS:       conf.GetBool("dbDisableTLS"),
			FirestoreProject: conf.GetString("firestoreProject"),
			CollectionPrefix: conf.GetString("collectionPrefix"),
		},
		Storage: StorageConfig{
			Backend: conf.GetString("storageBackend"),
			Bucket:  conf.GetString("storageBucket"),
			Prefix:  conf.GetString("storagePrefix"),
			BaseURL: conf.GetString("storageBaseURL"),
		},
		Redis: RedisConfig{
			Addr:     conf.GetString("redisAddr"),
			Password: conf.GetString("redisPassword"),
			DB:       conf.GetInt("redisDB"),
		},
		OTP: OTPConfig{
			Length: conf.GetInt("otpLength"),
			TTL:    conf.GetDuration("otpTTL"),
		},
		RollbarToken:     conf.GetString("rollbarToken"),
		SendgridApiKey:   conf.GetString("sendgridApiKey"),
		defaultFromEmail: conf.GetString("defaultFromEmail"),
	}
}

// String hides secrets when the config gets logged.
func (c Config) String() string {
	return fmt.Sprintf("Config{Env: %s, Build: %s, Debug: %v, DB: %s, Storage: %s}",
		c.Env, c.Build, c.Debug, c.Database.Engine, c.Storage.Backend)
}
