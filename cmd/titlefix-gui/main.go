package main

import (
	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
)

func main() {
	a := app.NewWithID("dev.firstsmile.titlefix")
	w := a.NewWindow("タイトル整形")
	w.Resize(fyne.NewSize(640, 420))

	ctl := newController(runPipeline)
	ui := newMainUI(ctl)
	w.SetContent(ui.content())
	w.SetOnClosed(func() {
		ctl.Stop()
		ctl.Wait()
	})
	w.ShowAndRun()
}
