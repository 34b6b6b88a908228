package calibration

// Rect は切り出し枠
type Rect struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// PointStatus は制御点の収集状況
type PointStatus struct {
	X        int `json:"x"`
	Y        int `json:"y"`
	CountX   int `json:"count_x"`
	CountY   int `json:"count_y"`
	Measured int `json:"measured"`
}

// Status はキャリブレーションの状態
type Status struct {
	Active    bool         `json:"active"`
	SessionID string       `json:"session_id,omitempty"`
	Step      string       `json:"step,omitempty"`
	Camera    int          `json:"camera"`
	Cameras   int          `json:"cameras"`
	Quick     bool         `json:"quick"`
	Stored    bool         `json:"stored"`
	Bounds    *Rect        `json:"bounds,omitempty"`
	Point     *PointStatus `json:"point,omitempty"`
}

// Status は現在の状態を返す
func (m *Machine) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.s
	if s == nil {
		return Status{}
	}
	st := Status{
		Active:    true,
		SessionID: s.id,
		Step:      s.state.step().String(),
		Camera:    s.camIdx,
		Cameras:   1,
		Quick:     s.quick,
		Stored:    s.stored,
	}
	if s.grid != nil {
		st.Cameras = len(s.grid.Cells)
	}

	switch v := s.state.(type) {
	case *boundingState:
		if v.ready {
			st.Bounds = &Rect{X: v.x, Y: v.y, Width: v.w, Height: v.h}
		}
	case *distortionState:
		st.Point = v.status()
	case *resultState:
		st.Point = v.prev.status()
	}
	return st
}

func (st *distortionState) status() *PointStatus {
	return &PointStatus{
		X:        st.curX,
		Y:        st.curY,
		CountX:   st.grid.CountX(),
		CountY:   st.grid.CountY(),
		Measured: st.grid.Measured(),
	}
}
