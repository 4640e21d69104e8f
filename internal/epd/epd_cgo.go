//go:build linux && arm && cgo

// cgo-backed driver wrapping the Waveshare C library (DEV_Config.c +
// EPD_7in5_V2.c), built into internal/epd/c/libepddrv.a.
//
// Expected C symbols:
//
//	UBYTE DEV_Module_Init(void);
//	void  DEV_Module_Exit(void);
//	UBYTE EPD_7IN5_V2_Init(void);
//	UBYTE EPD_7IN5_V2_Init_Part(void);
//	void  EPD_7IN5_V2_Clear(void);
//	void  EPD_7IN5_V2_Display(UBYTE *blackimage);
//	void  EPD_7IN5_V2_Display_Part(UBYTE *blackimage, UDOUBLE x_start,
//	                               UDOUBLE y_start, UDOUBLE x_end, UDOUBLE y_end);
//	void  EPD_7IN5_V2_Sleep(void);

package epd

/*
#cgo linux,arm CFLAGS: -I${SRCDIR}/c
#cgo linux,arm LDFLAGS: -L${SRCDIR}/c -lepddrv -llgpio

#include <stdint.h>
#include "EPD_7in5_V2.h"
#include "DEV_Config.h"
*/
import "C"

import (
	"fmt"
	"image"
	"unsafe"

	"boxdisplay/internal/convert"
)

type cgoDriver struct {
	width  int
	height int
}

// OpenCgo calls DEV_Module_Init and returns a driver backed by the C library.
func OpenCgo(width, height int) (Driver, error) {
	if width != convert.PanelWidth || height != convert.PanelHeight {
		return nil, fmt.Errorf("epd(cgo): supports %dx%d only", convert.PanelWidth, convert.PanelHeight)
	}
	// DEV_Module_Init returns 0 on success.
	if ret := C.DEV_Module_Init(); ret != 0 {
		return nil, fmt.Errorf("epd(cgo): DEV_Module_Init failed (ret=%d)", int(ret))
	}
	return &cgoDriver{width: width, height: height}, nil
}

func (d *cgoDriver) Name() string { return NameCgo }

func (d *cgoDriver) FullRefresh(img *image.Gray) error {
	plane, err := convert.PackGray(img, d.width, d.height)
	if err != nil {
		return err
	}
	if ret := C.EPD_7IN5_V2_Init(); ret != 0 {
		return fmt.Errorf("epd(cgo): EPD_7IN5_V2_Init failed (ret=%d)", int(ret))
	}
	C.EPD_7IN5_V2_Display((*C.UBYTE)(unsafe.Pointer(&plane[0])))
	return nil
}

func (d *cgoDriver) PartialRefresh(img *image.Gray, rect image.Rectangle) error {
	plane, err := convert.PackGray(img, d.width, d.height)
	if err != nil {
		return err
	}
	rect = rect.Intersect(image.Rect(0, 0, d.width, d.height))
	if rect.Empty() {
		return nil
	}
	window, r := convert.Window(plane, d.width, rect)
	if ret := C.EPD_7IN5_V2_Init_Part(); ret != 0 {
		return fmt.Errorf("epd(cgo): EPD_7IN5_V2_Init_Part failed (ret=%d)", int(ret))
	}
	C.EPD_7IN5_V2_Display_Part((*C.UBYTE)(unsafe.Pointer(&window[0])),
		C.UDOUBLE(r.Min.X), C.UDOUBLE(r.Min.Y), C.UDOUBLE(r.Max.X), C.UDOUBLE(r.Max.Y))
	return nil
}

func (d *cgoDriver) Clear() error {
	if ret := C.EPD_7IN5_V2_Init(); ret != 0 {
		return fmt.Errorf("epd(cgo): EPD_7IN5_V2_Init failed (ret=%d)", int(ret))
	}
	C.EPD_7IN5_V2_Clear()
	return nil
}

func (d *cgoDriver) Sleep() error {
	C.EPD_7IN5_V2_Sleep()
	return nil
}

func (d *cgoDriver) Close() error {
	C.DEV_Module_Exit()
	return nil
}
