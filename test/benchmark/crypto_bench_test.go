package benchmark

import (
	"fmt"
	"testing"

	"github.com/TheMichaelB/chaosvault/internal/alphabet"
	"github.com/TheMichaelB/chaosvault/internal/crypto"
	"github.com/TheMichaelB/chaosvault/internal/models"
	"github.com/TheMichaelB/chaosvault/test/testutil"
)

func benchAlphabet(b *testing.B) alphabet.Alphabet {
	b.Helper()
	a, err := alphabet.Derive([]byte("benchmark"))
	if err != nil {
		b.Fatal(err)
	}
	return a
}

func BenchmarkMasterKeyDerivation(b *testing.B) {
	a := benchAlphabet(b)
	salt := testutil.Pattern(crypto.SaltSize)

	for _, iterations := range []int{testutil.Iterations, 100000} {
		b.Run(fmt.Sprintf("iter_%d", iterations), func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				if _, err := crypto.DeriveMasterKey(a, models.NewPassphrase("pw"), salt, iterations); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkFileKeyDerivation(b *testing.B) {
	master := testutil.Pattern(crypto.KeySize)
	fc := crypto.FileContext{Path: "docs/deep/report.pdf", ContentLength: 1 << 20}

	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if _, err := crypto.DeriveFileKey(master, fc); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkLockUnlockFile(b *testing.B) {
	provider := crypto.NewProvider()
	a := benchAlphabet(b)
	key := testutil.Pattern(crypto.KeySize)

	for _, size := range []int{1 << 10, 64 << 10, 1 << 20} {
		content := testutil.Pattern(size)
		fc := crypto.FileContext{Path: "bench.bin", ContentLength: int64(size)}

		b.Run(fmt.Sprintf("lock_%dKB", size>>10), func(b *testing.B) {
			b.SetBytes(int64(size))
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				if _, err := provider.LockFile(content, key, a, fc); err != nil {
					b.Fatal(err)
				}
			}
		})

		locked, err := provider.LockFile(content, key, a, fc)
		if err != nil {
			b.Fatal(err)
		}

		b.Run(fmt.Sprintf("unlock_%dKB", size>>10), func(b *testing.B) {
			b.SetBytes(int64(size))
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				if _, err := provider.UnlockFile(locked, key, a); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkSubstitution(b *testing.B) {
	sub := alphabet.NewSubstitution(benchAlphabet(b))
	src := testutil.Pattern(1 << 20)
	dst := make([]byte, len(src))

	b.SetBytes(int64(len(src)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		sub.Apply(dst, src)
	}
}
