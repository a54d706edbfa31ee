package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	log "github.com/sirupsen/logrus"

	nested "github.com/antonfisher/nested-logrus-formatter"
	"github.com/spf13/viper"

	"Fast-SymbolTiler/store"
)

//flag
var (
	hf bool
	cf string
	id string
)

func init() {
	flag.BoolVar(&hf, "h", false, "this help")
	flag.StringVar(&cf, "c", "conf.toml", "set config `file`")
	flag.StringVar(&id, "id", "", "resume task `id`")
	flag.Usage = usage
	initLog("symbols.log")
}

//initLog 初始化日志
func initLog(path string) {
	log.SetFormatter(&nested.Formatter{
		HideKeys:        true,
		ShowFullLevel:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
	})
	writers := []io.Writer{os.Stdout}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err == nil {
		writers = append(writers, file)
	}
	//同时写文件和屏幕
	log.SetOutput(io.MultiWriter(writers...))
	if err != nil {
		log.Info("failed to log to file.")
	}
	log.SetLevel(log.InfoLevel)
}

func usage() {
	fmt.Fprintf(os.Stderr, `Fast-SymbolTiler version: Fast-SymbolTiler/1.0
Usage: Fast-SymbolTiler [-h] [-c filename] [-id task]
`)
	flag.PrintDefaults()
}

//initConf 初始化配置
func initConf(cfgFile string) {
	if _, err := os.Stat(cfgFile); os.IsNotExist(err) {
		log.Warnf("config file(%s) not exist", cfgFile)
	}
	viper.SetConfigType("toml")
	viper.SetConfigFile(cfgFile)
	viper.AutomaticEnv() // read in environment variables that match
	err := viper.ReadInConfig()
	if err != nil {
		log.Warnf("read config file(%s) error, details: %s", viper.ConfigFileUsed(), err)
	}
	viper.SetDefault("app.version", "v 0.1.0")
	viper.SetDefault("app.title", "MapCloud Symbols")
	viper.SetDefault("app.loglevel", "info")
	viper.SetDefault("provider.driver", "sqlite3")
	viper.SetDefault("provider.conn", "symbols.db")
	viper.SetDefault("region.min", 10)
	viper.SetDefault("region.max", 12)
	viper.SetDefault("task.workers", 4)
	viper.SetDefault("task.retry", 2)
	viper.SetDefault("gpu.maxbytes", 0)
	viper.SetDefault("redis.addr", "127.0.0.1:6379")
	viper.SetDefault("server.addr", ":8080")
	if lvl, err := log.ParseLevel(viper.GetString("app.loglevel")); err == nil {
		log.SetLevel(lvl)
	}
}

func main() {
	flag.Parse()
	if hf {
		flag.Usage()
		return
	}
	if cf == "" {
		cf = "conf.toml"
	}
	initConf(cf)
	start := time.Now()

	region := Region{
		Name:    viper.GetString("region.name"),
		Min:     viper.GetInt("region.min"),
		Max:     viper.GetInt("region.max"),
		Geojson: viper.GetString("region.geojson"),
	}
	if err := viper.UnmarshalKey("region.bound", &region.Bound); err != nil {
		log.Fatal("region.bound配置错误")
	}
	layers, err := region.Layers()
	if err != nil {
		log.Fatalf("region error ~ %s", err)
	}

	st, err := store.Open(viper.GetString("provider.driver"), viper.GetString("provider.conn"))
	if err != nil {
		log.Fatalf("open symbols provider error ~ %s", err)
	}
	defer st.Close()

	task, err := NewTask(layers, region.Name, st, id)
	if err != nil {
		log.Fatalf("create task error ~ %s", err)
	}
	srv := task.serve(viper.GetString("server.addr"))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	task.Run(ctx)

	shutdown, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	_ = srv.Shutdown(shutdown)
	secs := time.Since(start).Seconds()
	fmt.Printf("\n%.3fs finished...", secs)
}
