// Package server はキャプチャループの状態と操作をHTTPで公開する
//
// 責務:
//   - 状態・キャリブレーション・フィードバック表示の取得
//   - オペレーターのキー入力とブロブの受け付け
//   - 最新フレームのJPEG/MJPEG配信
//   - カメラの調整項目の取得と変更
//
// 仕様:
//   - ルーティングはgin
//   - キー入力はキャプチャループのキューに入れ、次のフレームで処理される
//   - グレースフルシャットダウンに対応
package server
