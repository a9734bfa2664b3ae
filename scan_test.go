package logkv_test

import (
	"github.com/bsm/logkv"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("Scan", func() {
	var dir string
	var subject *logkv.Store

	collect := func(opts *logkv.ScanOptions) []string {
		iter := subject.Scan(opts)
		defer iter.Release()

		var keys []string
		for iter.Next() {
			keys = append(keys, string(iter.Key()))
		}
		Expect(iter.Err()).NotTo(HaveOccurred())
		return keys
	}

	BeforeEach(func() {
		dir = newTestDir()
		subject = openStore(dir, nil)

		for _, kv := range []logkv.KV{
			{Key: []byte("ant"), Value: []byte("1")},
			{Key: []byte("app:1"), Value: []byte("2")},
			{Key: []byte("app:2"), Value: []byte("3")},
			{Key: []byte("bee"), Value: []byte("4")},
			{Key: []byte("cat"), Value: []byte("5")},
		} {
			Expect(subject.Put(kv.Key, kv.Value)).To(Succeed())
		}
	})

	AfterEach(func() {
		_ = subject.Close()
		removeAll(dir)
	})

	It("should scan everything in key order", func() {
		Expect(collect(nil)).To(Equal([]string{"ant", "app:1", "app:2", "bee", "cat"}))
	})

	It("should scan by prefix", func() {
		Expect(collect(&logkv.ScanOptions{Prefix: []byte("app:")})).To(Equal([]string{"app:1", "app:2"}))
		Expect(collect(&logkv.ScanOptions{Prefix: []byte("x")})).To(BeEmpty())
	})

	It("should scan by range", func() {
		Expect(collect(&logkv.ScanOptions{Start: []byte("app:2"), End: []byte("bee")})).To(Equal([]string{"app:2", "bee"}))
		Expect(collect(&logkv.ScanOptions{Start: []byte("bee")})).To(Equal([]string{"bee", "cat"}))
		Expect(collect(&logkv.ScanOptions{End: []byte("app:1")})).To(Equal([]string{"ant", "app:1"}))
	})

	It("should resolve values lazily", func() {
		iter := subject.Scan(&logkv.ScanOptions{Prefix: []byte("a")})
		defer iter.Release()

		Expect(iter.Next()).To(BeTrue())
		Expect(string(iter.Key())).To(Equal("ant"))
		Expect(iter.Value()).To(Equal([]byte("1")))

		// deleted mid-scan entries are skipped, not resurrected
		Expect(subject.Delete([]byte("app:1"))).To(Succeed())
		Expect(iter.Next()).To(BeTrue())
		Expect(string(iter.Key())).To(Equal("app:2"))
		Expect(iter.Next()).To(BeFalse())
		Expect(iter.Err()).NotTo(HaveOccurred())
	})

	It("should not iterate after release", func() {
		iter := subject.Scan(nil)
		Expect(iter.Next()).To(BeTrue())

		iter.Release()
		Expect(iter.Next()).To(BeFalse())
		Expect(iter.Err()).NotTo(HaveOccurred())
	})
})
