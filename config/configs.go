package config

import (
	"encoding/xml"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// 天地图 WMTS 瓦片地址，c 为经纬度切分，w 为墨卡托切分
const (
	tiandituWMTS = "http://t0.tianditu.gov.cn/%s_%s/wmts?SERVICE=WMTS&REQUEST=GetTile&VERSION=1.0.0" +
		"&LAYER=%s&STYLE=default&TILEMATRIXSET=%s&FORMAT=tiles" +
		"&TILEMATRIX={z}&TILEROW={row}&TILECOL={col}&tk={token}"
)

// DefaultUserAgents 瓦片请求随机使用的客户端标识
var DefaultUserAgents = []string{
	"Mozilla/5.0 (compatible; MSIE 9.0; Windows NT 6.1; Win64; x64; Trident/5.0; .NET CLR 3.5.30729; .NET CLR 3.0.30729; .NET CLR 2.0.50727; Media Center PC 6.0)",
	"Mozilla/5.0 (compatible; MSIE 8.0; Windows NT 6.0; Trident/4.0; WOW64; Trident/4.0; SLCC2; .NET CLR 2.0.50727; .NET CLR 3.5.30729; .NET CLR 3.0.30729; .NET CLR 1.0.3705; .NET CLR 1.1.4322)",
	"Mozilla/4.0 (compatible; MSIE 7.0b; Windows NT 5.2; .NET CLR 1.1.4322; .NET CLR 2.0.50727; InfoPath.2; .NET CLR 3.0.04506.30)",
	"Mozilla/5.0 (Windows; U; Windows NT 5.1; zh-CN) AppleWebKit/523.15 (KHTML, like Gecko, Safari/419.3) Arora/0.3 (Change: 287 c9dfb30)",
	"Mozilla/5.0 (X11; U; Linux; en-US) AppleWebKit/527+ (KHTML, like Gecko, Safari/419.3) Arora/0.6",
	"Mozilla/5.0 (Windows; U; Windows NT 5.1; en-US; rv:1.8.1.2pre) Gecko/20070215 K-Ninja/2.1.1",
	"Mozilla/5.0 (Windows; U; Windows NT 5.1; zh-CN; rv:1.9) Gecko/20080705 Firefox/3.0 Kapiko/3.0",
	"Mozilla/5.0 (X11; Linux i686; U;) Gecko/20070322 Kazehakase/0.4.5",
}

type Config struct {
	XMLName    xml.Name   `xml:"config"`
	MainRouter string     `xml:"MainRouter"`
	LogLevel   string     `xml:"LogLevel"`
	Storage    string     `xml:"storage"`
	Token      string     `xml:"token"`
	GeoRef     string     `xml:"georef"`
	Database   Database   `xml:"database"`
	Fetch      Fetch      `xml:"fetch"`
	UserAgents []string   `xml:"UserAgents>agent"`
	Templates  []Template `xml:"templates>template"`
}

// Database 成果目录数据库
type Database struct {
	Driver   string `xml:"driver"` // sqlite, postgres, mysql
	Host     string `xml:"host"`
	Port     string `xml:"port"`
	User     string `xml:"user"`
	Password string `xml:"password"`
	Dbname   string `xml:"dbname"`
	Path     string `xml:"path"` // sqlite 文件路径
}

// Fetch 瓦片请求参数
type Fetch struct {
	Timeout int     `xml:"timeout"` // 秒
	Retries int     `xml:"retries"`
	Rate    float64 `xml:"rate"` // 每秒请求数，0 不限速
	Burst   int     `xml:"burst"`
}

// Template 某投影与图层的瓦片地址
type Template struct {
	Projection string `xml:"projection,attr"`
	Layer      string `xml:"layer,attr"`
	URL        string `xml:",chardata"`
}

// Default 默认配置
func Default() Config {
	return Config{
		MainRouter: ":8181",
		LogLevel:   "info",
		Storage:    "./dist/tianditu",
		GeoRef:     "affine",
		Database: Database{
			Driver: "sqlite",
			Path:   "./dist/tianditu/bundles.db",
		},
		Fetch: Fetch{
			Timeout: 5,
			Retries: 3,
			Burst:   1,
		},
		UserAgents: append([]string(nil), DefaultUserAgents...),
		Templates: []Template{
			{Projection: "EPSG:4326", Layer: "img", URL: fmt.Sprintf(tiandituWMTS, "img", "c", "img", "c")},
			{Projection: "EPSG:4326", Layer: "vec", URL: fmt.Sprintf(tiandituWMTS, "vec", "c", "vec", "c")},
			{Projection: "EPSG:3857", Layer: "img", URL: fmt.Sprintf(tiandituWMTS, "img", "w", "img", "w")},
			{Projection: "EPSG:3857", Layer: "vec", URL: fmt.Sprintf(tiandituWMTS, "vec", "w", "vec", "w")},
		},
	}
}

// Load 读取 XML 配置，文件不存在时使用默认配置，缺省字段取默认值
func Load(path string) (Config, error) {
	xmlFile, err := os.Open(path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	if err != nil {
		return Config{}, errors.Wrap(err, "open config")
	}
	defer xmlFile.Close()

	// 未出现的元素保留默认值，列表由 merge 补全
	cfg := Default()
	cfg.UserAgents, cfg.Templates = nil, nil
	if err := xml.NewDecoder(xmlFile).Decode(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "decode config")
	}
	cfg.merge(Default())
	return cfg, nil
}

// merge 以 def 补全未配置的字段
func (c *Config) merge(def Config) {
	if c.MainRouter == "" {
		c.MainRouter = def.MainRouter
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.Storage == "" {
		c.Storage = def.Storage
	}
	if c.GeoRef == "" {
		c.GeoRef = def.GeoRef
	}
	if c.Database.Driver == "" {
		c.Database.Driver = def.Database.Driver
	}
	if c.Database.Driver == "sqlite" && c.Database.Path == "" {
		c.Database.Path = def.Database.Path
	}
	if c.Fetch.Timeout <= 0 {
		c.Fetch.Timeout = def.Fetch.Timeout
	}
	if c.Fetch.Burst <= 0 {
		c.Fetch.Burst = def.Fetch.Burst
	}
	if len(c.UserAgents) == 0 {
		c.UserAgents = def.UserAgents
	}

	// 只补全未配置的投影与图层
	for _, t := range def.Templates {
		if _, ok := c.Template(t.Projection, t.Layer); !ok {
			c.Templates = append(c.Templates, t)
		}
	}
}

// Template 查找投影与图层对应的地址
func (c Config) Template(projection, layer string) (string, bool) {
	for _, t := range c.Templates {
		if strings.EqualFold(t.Projection, projection) && strings.EqualFold(t.Layer, layer) {
			url := strings.TrimSpace(t.URL)
			return url, url != ""
		}
	}
	return "", false
}

// FetchTimeout 瓦片请求超时
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetch.Timeout) * time.Second
}

// DSN 数据库连接串
func (d Database) DSN() (string, error) {
	switch strings.ToLower(d.Driver) {
	case "sqlite", "":
		if d.Path == "" {
			return "", errors.New("sqlite path is empty")
		}
		return d.Path, nil
	case "postgres":
		return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=UTC",
			d.Host, d.User, d.Password, d.Dbname, d.Port), nil
	case "mysql":
		return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
			d.User, d.Password, d.Host, d.Port, d.Dbname), nil
	}
	return "", errors.Errorf("unsupported database driver %q", d.Driver)
}
