package vision

import "shikai/internal/camera"

// engineControls は調整項目の操作をEngineのロック下で現在のソースに渡す
//
// 操作中にResetCameraでソースが閉じられることはない。
// 操作の間にソースが差し替わった場合は新しいソースに対して行う。
type engineControls struct {
	e *Engine
}

var _ camera.Controls = engineControls{}

func (c engineControls) with(fn func(src camera.Source) error) error {
	c.e.mu.RLock()
	defer c.e.mu.RUnlock()
	if c.e.source == nil {
		return camera.ErrNotInitialized
	}
	return fn(c.e.source)
}

func (c engineControls) HasControl(ctrl camera.Control) bool {
	var ok bool
	_ = c.with(func(src camera.Source) error {
		ok = src.HasControl(ctrl)
		return nil
	})
	return ok
}

func (c engineControls) Control(ctrl camera.Control) (int, error) {
	var v int
	err := c.with(func(src camera.Source) (err error) {
		v, err = src.Control(ctrl)
		return err
	})
	return v, err
}

func (c engineControls) SetControl(ctrl camera.Control, value int) error {
	return c.with(func(src camera.Source) error { return src.SetControl(ctrl, value) })
}

func (c engineControls) ControlInfo(ctrl camera.Control) (camera.ControlInfo, error) {
	var info camera.ControlInfo
	err := c.with(func(src camera.Source) (err error) {
		info, err = src.ControlInfo(ctrl)
		return err
	})
	return info, err
}

func (c engineControls) SetDefault(ctrl camera.Control) error {
	return c.with(func(src camera.Source) error { return src.SetDefault(ctrl) })
}

func (c engineControls) HasAuto(ctrl camera.Control) bool {
	var ok bool
	_ = c.with(func(src camera.Source) error {
		ok = src.HasAuto(ctrl)
		return nil
	})
	return ok
}

func (c engineControls) Auto(ctrl camera.Control) (bool, error) {
	var on bool
	err := c.with(func(src camera.Source) (err error) {
		on, err = src.Auto(ctrl)
		return err
	})
	return on, err
}

func (c engineControls) SetAuto(ctrl camera.Control, on bool) error {
	return c.with(func(src camera.Source) error { return src.SetAuto(ctrl, on) })
}
