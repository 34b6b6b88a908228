package main

import (
	"context"
	"log"

	"shikai/internal/app"
	"shikai/internal/config"
)

func main() {
	// 設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("設定の読み込みに失敗しました: %v", err)
	}

	// キャプチャとサーバーを起動
	if err := app.Run(context.Background(), cfg); err != nil {
		log.Fatalf("実行に失敗しました: %v", err)
	}
}
