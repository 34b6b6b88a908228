// Package main はShikaiサーバーコマンドの実装です
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"shikai/internal/app"
	"shikai/internal/camera"
	"shikai/internal/config"
	"shikai/internal/fsutil"
)

func main() {
	// コマンドラインオプション
	var (
		host       = flag.String("host", "", "サーバーのホスト (デフォルト: 0.0.0.0)")
		port       = flag.Int("port", 0, "サーバーのポート (デフォルト: 8080)")
		configFile = flag.String("config", "", "設定ファイル (YAML)")
		layoutFile = flag.String("camera", "", "カメラレイアウト記述ファイル (YAML)")
		resources  = flag.String("resources", "", "グリッドファイルの保存先")
		list       = flag.Bool("list", false, "利用できるドライバを表示")
		devices    = flag.Bool("devices", false, "接続されているV4L2デバイスを表示")
		help       = flag.Bool("help", false, "ヘルプを表示")
	)

	flag.Parse()

	// ヘルプ表示
	if *help {
		fmt.Println("Shikai")
		fmt.Println()
		fmt.Println("使用方法:")
		fmt.Println("  server [オプション]")
		fmt.Println()
		fmt.Println("オプション:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	if *list {
		for _, d := range app.NewFactory().Drivers() {
			fmt.Println(d)
		}
		os.Exit(0)
	}

	if *devices {
		found, err := camera.DiscoverDevices(context.Background(), camera.DevicePattern)
		if err != nil {
			log.Fatalf("デバイスの検出に失敗しました: %v", err)
		}
		for _, d := range found {
			fmt.Printf("%d\t%s\t%s\n", d.Device, d.Path, d.Name)
		}
		os.Exit(0)
	}

	// 設定を読み込む
	var (
		cfg *config.Config
		err error
	)
	if *configFile != "" {
		cfg, err = config.LoadFile(fsutil.OSFileSystem{}, *configFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		log.Fatalf("設定の読み込みに失敗しました: %v", err)
	}

	// コマンドラインオプションで設定を上書き
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *layoutFile != "" {
		cfg.Camera.LayoutFile = *layoutFile
	}
	if *resources != "" {
		cfg.Calibration.ResourceDir = *resources
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("設定が不正です: %v", err)
	}

	log.Printf("Shikai サーバーを起動します: %s", cfg.ServerAddress())
	if err := app.Run(context.Background(), cfg); err != nil {
		log.Fatalf("実行に失敗しました: %v", err)
	}
}
