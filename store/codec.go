package store

import (
	"bytes"
	"encoding/json"
	"image"
	"image/draw"
	"image/png"

	"Fast-SymbolTiler/symbols"
)

type symbolRecord struct {
	Name string `json:"name"`
	PNG  []byte `json:"png"`
}

func encodeSymbols(list []*symbols.MapSymbol) ([]byte, error) {
	records := make([]symbolRecord, 0, len(list))
	for _, symbol := range list {
		var buf bytes.Buffer
		if symbol.Bitmap != nil {
			if err := png.Encode(&buf, symbol.Bitmap); err != nil {
				return nil, err
			}
		}
		records = append(records, symbolRecord{Name: symbol.Name, PNG: buf.Bytes()})
	}
	return json.Marshal(records)
}

func decodeSymbols(blob []byte) ([]*symbols.MapSymbol, error) {
	var records []symbolRecord
	if err := json.Unmarshal(blob, &records); err != nil {
		return nil, err
	}
	list := make([]*symbols.MapSymbol, 0, len(records))
	for _, rec := range records {
		symbol := &symbols.MapSymbol{Name: rec.Name}
		if len(rec.PNG) > 0 {
			img, err := png.Decode(bytes.NewReader(rec.PNG))
			if err != nil {
				return nil, err
			}
			symbol.Bitmap = toRGBA(img)
		}
		list = append(list, symbol)
	}
	return list, nil
}

func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Rect.Min == (image.Point{}) {
		return rgba
	}
	b := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	return rgba
}
