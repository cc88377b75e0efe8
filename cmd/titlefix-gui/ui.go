package main

import (
	"context"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/widget"
)

// tickInterval: 计时器刷新周期。
const tickInterval = time.Second

type mainUI struct {
	ctl *controller

	startBtn *widget.Button
	stopBtn  *widget.Button
	timer    *widget.Label
	status   *widget.Label
	history  *widget.List
	rows     []entry
}

func newMainUI(ctl *controller) *mainUI {
	ui := &mainUI{ctl: ctl}
	ui.startBtn = widget.NewButton("開始", ui.onStart)
	ui.startBtn.Importance = widget.HighImportance
	ui.stopBtn = widget.NewButton("停止", ui.onStop)
	ui.stopBtn.Disable()
	ui.timer = widget.NewLabel(formatElapsed(0))
	ui.timer.TextStyle = fyne.TextStyle{Monospace: true}
	ui.status = widget.NewLabel("待機中")
	ui.history = widget.NewList(
		func() int { return len(ui.rows) },
		func() fyne.CanvasObject { return widget.NewLabel("") },
		func(id widget.ListItemID, obj fyne.CanvasObject) {
			if id < len(ui.rows) {
				obj.(*widget.Label).SetText(ui.rows[id].Summary())
			}
		},
	)
	ctl.SetOnUpdate(func() { fyne.Do(ui.refresh) })
	return ui
}

func (ui *mainUI) content() fyne.CanvasObject {
	top := container.NewVBox(
		container.NewHBox(ui.startBtn, ui.stopBtn, widget.NewSeparator(), ui.timer),
		ui.status,
		widget.NewSeparator(),
		widget.NewLabel("実行履歴"),
	)
	return container.NewBorder(top, nil, nil, nil, ui.history)
}

func (ui *mainUI) onStart() {
	if ui.ctl.Running() {
		return
	}
	// 先切换界面状态：运行可能在 Start 返回前结束并触发 refresh。
	ui.startBtn.Disable()
	ui.stopBtn.Enable()
	ui.status.SetText("実行中…")
	ui.timer.SetText(formatElapsed(0))
	if !ui.ctl.Start(context.Background()) {
		return
	}
	go ui.tick()
}

func (ui *mainUI) onStop() {
	if ui.ctl.Stop() {
		ui.stopBtn.Disable()
		ui.status.SetText("停止中…")
	}
}

// tick 在运行期间每秒刷新计时器。
func (ui *mainUI) tick() {
	t := time.NewTicker(tickInterval)
	defer t.Stop()
	for range t.C {
		if !ui.ctl.Running() {
			return
		}
		d := ui.ctl.Elapsed()
		fyne.Do(func() { ui.timer.SetText(formatElapsed(d)) })
	}
}

// refresh 在运行结束后同步按钮、状态与历史。
func (ui *mainUI) refresh() {
	ui.rows = ui.ctl.History()
	ui.history.Refresh()
	running := ui.ctl.Running()
	if running {
		return
	}
	ui.startBtn.Enable()
	ui.stopBtn.Disable()
	if len(ui.rows) == 0 {
		ui.status.SetText("待機中")
		return
	}
	last := ui.rows[0]
	ui.timer.SetText(formatElapsed(last.Duration))
	switch {
	case last.OK:
		ui.status.SetText("完了: " + last.Output)
	case last.Stopped:
		ui.status.SetText("中止しました")
	default:
		ui.status.SetText("エラー: " + last.Err)
	}
}
