package export

import (
	"bufio"
	"encoding/binary"
	"os"
)

// WriteSTL writes the computed triangles as a binary STL file: an
// 80-byte header, a uint32 facet count, and 50 bytes per facet.
func (p *Polygonizer) WriteSTL(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)

	var header [80]byte
	copy(header[:], "trussopt binary stl")
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(p.triangles))); err != nil {
		return err
	}

	buf := make([]float32, 12)
	for _, t := range p.triangles {
		buf[0], buf[1], buf[2] = float32(t.Normal.X), float32(t.Normal.Y), float32(t.Normal.Z)
		buf[3], buf[4], buf[5] = float32(t.A.X), float32(t.A.Y), float32(t.A.Z)
		buf[6], buf[7], buf[8] = float32(t.B.X), float32(t.B.Y), float32(t.B.Z)
		buf[9], buf[10], buf[11] = float32(t.C.X), float32(t.C.Y), float32(t.C.Z)
		if err := binary.Write(w, binary.LittleEndian, buf); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, uint16(0)); err != nil {
			return err
		}
	}
	return w.Flush()
}
