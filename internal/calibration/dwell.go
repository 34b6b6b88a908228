package calibration

import "time"

// DwellTime は確定に必要な滞留時間
const DwellTime = 3 * time.Second

// Blob は追跡中のブロブ。座標は合成画像のピクセル
type Blob struct {
	ID int64   `json:"id"`
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
}

// dwell は1つのブロブが置かれ続けている時間を計る
//
// ブロブが0個または2個以上になった時点で計測をやめる。
// 確定後は一度ブロブが離れるまで次の計測を始めない。
type dwell struct {
	tracking  bool
	id        int64
	start     time.Time
	submitted bool
}

// observe は現在のブロブを渡し、候補のブロブと滞留時間を返す
func (d *dwell) observe(blobs []Blob, now time.Time) (Blob, time.Duration, bool) {
	if len(blobs) != 1 {
		d.tracking = false
		d.submitted = false
		return Blob{}, 0, false
	}
	if d.submitted {
		return Blob{}, 0, false
	}

	b := blobs[0]
	if !d.tracking || b.ID != d.id {
		d.tracking = true
		d.id = b.ID
		d.start = now
	}
	return b, now.Sub(d.start), true
}

// submit は確定を記録する
func (d *dwell) submit() {
	d.tracking = false
	d.submitted = true
}
