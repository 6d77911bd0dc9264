package benchmark

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/TheMichaelB/chaosvault/internal/crypto"
	"github.com/TheMichaelB/chaosvault/internal/models"
	"github.com/TheMichaelB/chaosvault/internal/services/transform"
	"github.com/TheMichaelB/chaosvault/test/testutil"
)

func benchTree(files, size int) testutil.Tree {
	tree := testutil.Tree{}
	for i := 0; i < files; i++ {
		tree[fmt.Sprintf("dir-%02d/file-%04d.bin", i%16, i)] = string(testutil.Pattern(size))
	}
	return tree
}

func BenchmarkLockUnlockFolder(b *testing.B) {
	v := testutil.NewVault(b, "bench", models.NoFactor())

	for _, workers := range []int{1, 4, 8} {
		for _, compress := range []bool{false, true} {
			name := fmt.Sprintf("workers_%d/compress_%t", workers, compress)
			b.Run(name, func(b *testing.B) {
				engine := transform.NewEngine(crypto.NewProvider(), transform.Options{
					Workers:     workers,
					Compress:    compress,
					MaxFileSize: 1 << 30,
				}, testutil.NewTestLogger())

				tree := benchTree(64, 16<<10)
				b.SetBytes(int64(64 * 16 << 10))
				b.ReportAllocs()

				for i := 0; i < b.N; i++ {
					b.StopTimer()
					source := filepath.Join(b.TempDir(), "folder")
					testutil.WriteTree(b, source, tree)
					b.StartTimer()

					res, err := engine.Lock(context.Background(), v, source, nil)
					if err != nil {
						b.Fatal(err)
					}
					if _, err := engine.Unlock(context.Background(), v, res.Destination, nil); err != nil {
						b.Fatal(err)
					}
				}
			})
		}
	}
}

func BenchmarkLockManySmallFiles(b *testing.B) {
	v := testutil.NewVault(b, "small", models.NoFactor())
	engine := transform.NewEngine(crypto.NewProvider(), transform.Options{
		Workers:     4,
		MaxFileSize: 1 << 30,
	}, testutil.NewTestLogger())
	tree := benchTree(500, 64)

	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		b.StopTimer()
		source := filepath.Join(b.TempDir(), "small")
		testutil.WriteTree(b, source, tree)
		b.StartTimer()

		if _, err := engine.Lock(context.Background(), v, source, nil); err != nil {
			b.Fatal(err)
		}
	}
}
