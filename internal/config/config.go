// 包 config：集中读取环境变量配置；主入口负责先用 godotenv 加载 .env
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"geosearch/internal/geo"

	"github.com/joho/godotenv"
)

// 文档注释：运行配置
// 背景：所有可调参数在此汇总，组件构造时按需取用，避免各包重复解析环境变量。
// 约束：解析失败的数值回退到默认值，不中断启动；仅 GEOCODER_PROXIMITY 格式错误会返回错误。
type Config struct {
	Addr    string
	APIBase string

	GeocoderBaseURL string
	GeocoderToken   string
	GeocoderCountry string
	GeocoderTimeout time.Duration
	Proximity       geo.Point

	SuggestDebounce    time.Duration
	SuggestMinQueryLen int
	SearchMinQueryLen  int

	HistoryBackend string
	HistoryDir     string
	HistoryKey     string

	DirectorySource  string
	DirectorySeed    string
	DirectoryRefresh time.Duration

	GeocodeCacheTTL time.Duration
	RedisEnabled    bool

	RateLimitEnabled bool
	RateLimitQPS     int

	TLSEnable   bool
	TLSCertPath string
	TLSKeyPath  string
}

// LoadDotenv：依次加载 .env 与 data/env/.env；文件缺失时忽略
func LoadDotenv() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join("data", "env", ".env"))
}

// Load：从环境变量构建配置
func Load() (*Config, error) {
	c := &Config{
		Addr:               str("ADDR", ":8080"),
		APIBase:            str("API_BASE", "/api"),
		GeocoderBaseURL:    str("GEOCODER_BASE_URL", "https://api.mapbox.com/geocoding/v5/mapbox.places"),
		GeocoderToken:      os.Getenv("GEOCODER_TOKEN"),
		GeocoderCountry:    str("GEOCODER_COUNTRY", "ph"),
		GeocoderTimeout:    ms("GEOCODER_TIMEOUT_MS", 4000),
		Proximity:          geo.Point{Lng: 121.0244, Lat: 14.5547},
		SuggestDebounce:    ms("SUGGEST_DEBOUNCE_MS", 300),
		SuggestMinQueryLen: num("SUGGEST_MIN_QUERY_LEN", 2),
		SearchMinQueryLen:  num("SEARCH_MIN_QUERY_LEN", 3),
		HistoryBackend:     strings.ToLower(str("HISTORY_BACKEND", "file")),
		HistoryDir:         str("HISTORY_DIR", filepath.Join("data", "history")),
		HistoryKey:         str("HISTORY_KEY", "geosearch:search_history"),
		DirectorySource:    strings.ToLower(str("DIRECTORY_SOURCE", "postgres")),
		DirectorySeed:      str("DIRECTORY_SEED", filepath.Join("data", "directory", "seed.json")),
		DirectoryRefresh:   time.Duration(num("DIRECTORY_REFRESH_S", 60)) * time.Second,
		GeocodeCacheTTL:    time.Duration(num("GEOCODE_CACHE_TTL_S", 86400)) * time.Second,
		RedisEnabled:       os.Getenv("REDIS_ENABLED") == "true",
		RateLimitEnabled:   os.Getenv("RATE_LIMIT_ENABLED") == "true",
		RateLimitQPS:       num("RATE_LIMIT_QPS", 50),
		TLSEnable:          os.Getenv("TLS_ENABLE") == "true",
		TLSCertPath:        str("TLS_CERT_PATH", filepath.Join("data", "certs", "server.crt")),
		TLSKeyPath:         str("TLS_KEY_PATH", filepath.Join("data", "certs", "server.key")),
	}
	if s := os.Getenv("GEOCODER_PROXIMITY"); s != "" {
		p, err := ParsePoint(s)
		if err != nil {
			return nil, fmt.Errorf("GEOCODER_PROXIMITY: %w", err)
		}
		c.Proximity = p
	}
	return c, nil
}

// ParsePoint：解析 "lng,lat" 文本
func ParsePoint(s string) (geo.Point, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return geo.Point{}, fmt.Errorf("want lng,lat, got %q", s)
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return geo.Point{}, err
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return geo.Point{}, err
	}
	p := geo.Point{Lng: lng, Lat: lat}
	if !p.Valid() {
		return geo.Point{}, fmt.Errorf("out of range: %s", s)
	}
	return p, nil
}

func str(env, def string) string {
	if v := os.Getenv(env); v != "" {
		return v
	}
	return def
}

func num(env string, def int) int {
	if v := os.Getenv(env); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func ms(env string, def int) time.Duration {
	return time.Duration(num(env, def)) * time.Millisecond
}
