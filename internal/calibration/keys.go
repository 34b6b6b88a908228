package calibration

import (
	"fmt"
	"strings"
)

// Key はオペレーターの入力キー
type Key string

// 入力キー
const (
	KeyToggle     Key = "c" // キャリブレーションの開始/終了
	KeyQuick      Key = "q" // 調整幅の切り替え
	KeyResetPoint Key = "u" // 選択中の点をリセット
	KeyResetGrid  Key = "j" // 格子全体をリセット
	KeyRevert     Key = "l" // 保存済みの格子に戻す
	KeyResult     Key = "r" // 補正結果を表示

	// 選択の移動（DISTORTION）と枠の辺の移動（BOUNDING）
	KeyA Key = "a"
	KeyD Key = "d"
	KeyW Key = "w"
	KeyX Key = "x"
	KeyS Key = "s"

	KeyUp    Key = "up"
	KeyDown  Key = "down"
	KeyLeft  Key = "left"
	KeyRight Key = "right"
	KeyEnter Key = "enter"
)

var allKeys = []Key{
	KeyToggle, KeyQuick, KeyResetPoint, KeyResetGrid, KeyRevert, KeyResult,
	KeyA, KeyD, KeyW, KeyX, KeyS,
	KeyUp, KeyDown, KeyLeft, KeyRight, KeyEnter,
}

// ParseKey は文字列をKeyに変換する。大文字小文字は区別しない
func ParseKey(s string) (Key, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "return" {
		return KeyEnter, nil
	}
	for _, k := range allKeys {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("不明なキー: %q", s)
}

// Help は操作説明を返す
func Help() []string {
	return []string{
		"キャリブレーション:",
		"   c - キャリブレーションの開始/終了",
		"   q - 調整幅の切り替え（粗い/細かい）",
		"   u - 選択中の点をリセット",
		"   j - 格子全体をリセット",
		"   l - 保存済みの格子に戻す",
		"   r - 補正結果を表示",
		"   a,d,w,x - 格子内の選択を移動",
		"   カーソルキー - 選択中の点を調整 / 切り出し枠の大きさを変更",
		"   a,d,w,s - 切り出し枠の辺を移動",
		"   enter - 切り出し枠を確定",
	}
}
