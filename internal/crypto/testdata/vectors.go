package testdata

// Payload is one plaintext fixture for cipher round trips.
type Payload struct {
	Name      string
	Path      string
	Plaintext []byte
}

// Payloads covers block boundaries, empty files and non-ASCII paths.
var Payloads = []Payload{
	{Name: "empty file", Path: "empty.txt", Plaintext: []byte{}},
	{Name: "single byte", Path: "one.bin", Plaintext: []byte{0x42}},
	{Name: "one block minus one", Path: "notes/fifteen.txt", Plaintext: []byte("fifteen bytes!!")},
	{Name: "exact block", Path: "notes/sixteen.txt", Plaintext: []byte("sixteen bytes!!!")},
	{Name: "unicode path", Path: "фото/снимок.jpg", Plaintext: []byte("Привет, мир! 🌍")},
	{Name: "all byte values", Path: "bin/all.bin", Plaintext: allBytes()},
	{Name: "page sized", Path: "deep/a/b/c/page.dat", Plaintext: make([]byte, 4096)},
}

func allBytes() []byte {
	b := make([]byte, 256)
	for i := range b {
		b[i] = byte(i)
	}
	return b
}
