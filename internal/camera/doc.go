// Package camera はキャプチャソースの抽象とドライバを提供する
//
// # 責務
// - ソースのライフサイクル（Init/Start/Stop/Reset/Close）とフレーム取得
// - 調整項目（明るさ・ゲインなど）と自動調整の操作
// - ドライバ名からソースを作成するファクトリー
// - V4L2デバイスの検出
//
// # ドライバ
// - v4l2: ffmpeg経由でV4L2デバイスから取得。調整項目はv4l2-ctlで扱う
// - folder: ディレクトリ内の画像を名前順に繰り返し再生
// - mock: テスト用の固定フレーム
//
// # 前提要件
//   - v4l-utils: カメラ名の取得とデバイス制御に使用
//     Ubuntu/Debian: sudo apt install v4l-utils
//   - ffmpeg: 画像キャプチャに使用
//     Ubuntu/Debian: sudo apt install ffmpeg
//   - videoグループへの参加: デバイスアクセス権限
//     sudo usermod -a -G video $USER
package camera
