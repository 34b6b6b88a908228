// Package vision はキャプチャループを回す
//
// 責務:
//   - カメラ構成からソース（変換パイプライン、複数カメラの合成）を組み立てる
//   - フレームごとに外部の検出器とキャリブレーションを順に呼ぶ
//   - 最新フレームと状態をHTTP側に公開する
//
// ループは1つのゴルーチンで動き、キー入力はキューから1フレームに1回まとめて取り出す。
// キャリブレーションによるカメラ構成の変更はループ内で同期的にカメラを作り直して反映する。
package vision
