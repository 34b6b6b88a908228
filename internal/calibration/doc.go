// Package calibration はカメラの切り出し範囲・配置・歪み補正を対話的に決める状態機械
//
// 責務:
//   - オペレーターのキー入力とブロブの滞留（3秒）を受けて段階を進める
//   - 段階ごとのフィードバック表示を図形として返す
//   - 確定したカメラ構成とキャリブレーショングリッドを協調者に渡す
//
// 段階:
//
//	POSITION   複数カメラのみ。ブロブを置いたセルのカメラを現在のセルに割り当てる
//	BOUNDING   切り出し枠を調整し、enterで確定する
//	DISTORTION 格子状の目標に順にブロブを置き、制御点を集める
//	TESTRESULT グリッドを保存し、補正を有効にした結果を表示する
//
// HandleKeyとProcessはキャプチャループと同じゴルーチンから呼ぶ。
package calibration
