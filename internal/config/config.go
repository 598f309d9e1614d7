package config

import (
	"errors"
	"flag"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

var ErrNoBackend = errors.New("backend.baseURL is required")

type Config struct {
	ENV       string         `yaml:"env" env:"ENV" env-default:"local"`
	AUTH      AuthGRPCConfig `yaml:"auth"`
	WEBSOCKET WebSocket      `yaml:"websocket"`
	BACKEND   Backend        `yaml:"backend"`
	WIDGET    Widget         `yaml:"widget"`
	SESSION   Session        `yaml:"session"`
	SEQUENCER Sequencer      `yaml:"sequencer"`
	STORAGE   Storage        `yaml:"storage"`
	SHOPS     Shops          `yaml:"shops"`
	MESSAGES  Messages       `yaml:"messages"`
}

// сервис sso для проверки токена хост-страницы, пустой URLAuth отключает проверку
type AuthGRPCConfig struct {
	URLAuth      string        `yaml:"URLAuth" env:"AUTH_URL"`
	Timeout      time.Duration `yaml:"timeout" env-default:"3s"`
	RetriesCount int           `yaml:"retriesCount" env-default:"2"`
	Insecure     bool          `yaml:"insecure" env-default:"true"`
}

// сервер, к которому подключается слой рендеринга хост-страницы
type WebSocket struct {
	URLWS          string        `yaml:"urlws" env:"WS_ADDR" env-default:":8080"`
	Timeout        time.Duration `yaml:"timeout" env-default:"60s"`
	AllowedOrigins []string      `yaml:"allowedOrigins" env:"ALLOWED_ORIGINS" env-separator:","`
}

// проксируемый бек диалоговой системы
type Backend struct {
	BaseURL         string        `yaml:"baseURL" env:"BACKEND_URL"`
	InitPath        string        `yaml:"initPath" env-default:"/init"`
	ChatPath        string        `yaml:"chatPath" env-default:"/chat"`
	FeedbackPath    string        `yaml:"feedbackPath" env-default:"/feedback"`
	MessageFbPath   string        `yaml:"messageFeedbackPath" env-default:"/message-feedback"`
	ContactPath     string        `yaml:"contactPath" env-default:"/contact"`
	ErrorReportPath string        `yaml:"errorReportPath" env-default:"/client-error"`
	Timeout         time.Duration `yaml:"timeout" env-default:"5s"`
	ReportTimeout   time.Duration `yaml:"reportTimeout" env-default:"2s"`
}

type Widget struct {
	WidgetID           string   `yaml:"widgetId" env:"WIDGET_ID"`
	AgentID            string   `yaml:"agentId" env:"AGENT_ID"`
	ClientURL          string   `yaml:"clientUrl" env:"CLIENT_URL"`
	IsInternal         bool     `yaml:"isInternal" env:"IS_INTERNAL"`
	DefaultSuggestions []string `yaml:"defaultSuggestions"`
	WelcomeMessage     string   `yaml:"welcomeMessage" env-default:"Hallo! Wie kann ich helfen?"`
}

type Session struct {
	// 0 - сессия завершается только вручную
	Timeout      time.Duration `yaml:"timeout" env-default:"30m"`
	CookieMaxAge time.Duration `yaml:"cookieMaxAge" env-default:"20h"`
}

type Sequencer struct {
	BaseDelay        time.Duration `yaml:"baseDelay" env-default:"800ms"`
	ShopDelay        time.Duration `yaml:"shopDelay" env-default:"400ms"`
	AllShopsMapDelay time.Duration `yaml:"allShopsMapDelay" env-default:"500ms"`
	VideoDelay       time.Duration `yaml:"videoDelay" env-default:"300ms"`
	SuggestionsLead  time.Duration `yaml:"suggestionsLead" env-default:"200ms"`
	ThankYouDelay    time.Duration `yaml:"thankYouDelay" env-default:"3s"`
}

type Storage struct {
	// sqlite | postgres | redis | memory
	Driver        string `yaml:"driver" env:"STORAGE_DRIVER" env-default:"sqlite"`
	DSN           string `yaml:"dsn" env:"STORAGE_DSN" env-default:"widget.db"`
	RedisAddr     string `yaml:"redisAddr" env:"REDIS_ADDR" env-default:"localhost:6379"`
	RedisPassword string `yaml:"redisPassword" env:"REDIS_PASSWORD"`
	RedisDB       int    `yaml:"redisDB" env-default:"0"`
	RedisPrefix   string `yaml:"redisPrefix" env-default:"widget:"`
}

type Shops struct {
	// URL или путь к json-файлу, пустое значение - без магазинов
	Source  string        `yaml:"source" env:"SHOPS_SOURCE"`
	Timeout time.Duration `yaml:"timeout" env-default:"5s"`
}

// тексты ошибок, которые видит пользователь
type Messages struct {
	Timeout     string `yaml:"timeout" env-default:"Die Antwort dauert leider zu lange. Bitte versuche es erneut."`
	NoAnswer    string `yaml:"noAnswer" env-default:"Dazu habe ich leider keine Antwort gefunden."`
	Unreachable string `yaml:"unreachable" env-default:"Der Server ist gerade nicht erreichbar. Bitte versuche es später erneut."`
	Unknown     string `yaml:"unknown" env-default:"Es ist ein unbekannter Fehler aufgetreten."`
	Fallback    string `yaml:"fallback" env-default:"Entschuldigung, darauf habe ich keine Antwort."`
}

// парсит и возвращает объект конфига
func MustLoadByPath(configPath string) *Config {
	cfg, err := LoadByPath(configPath)
	if err != nil {
		panic(err.Error())
	}

	return cfg
}

func LoadByPath(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, &os.PathError{Op: "config", Path: configPath, Err: os.ErrNotExist}
	}

	var cfg Config

	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		return nil, err
	}

	if cfg.BACKEND.BaseURL == "" {
		return nil, ErrNoBackend
	}

	return &cfg, nil
}

// парсит и возвращает объект конфига
func MustLoad() *Config {
	path := fetchConfigPath()
	if path == "" {
		panic("config path is empty")
	}

	return MustLoadByPath(path)
}

// получает информацию о пути до файла конфига
// из двух источников либо из переменных окружения
// либо из флага (приоритет)
func fetchConfigPath() string {
	var res string

	flag.StringVar(&res, "config", "", "path to config file")
	flag.Parse()

	// .env необязателен
	_ = godotenv.Load()

	if res == "" {
		res = os.Getenv("CONFIG_PATH")
	}

	return res
}
