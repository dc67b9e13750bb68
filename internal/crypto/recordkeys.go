package icrypto

import "github.com/jmcleod/ironlink/internal/util"

const storeKeyInfo = "ironlink:store-key:v1"

// DeriveStoreKey derives the per-bucket sealing key from the operator's wrapping key.
func DeriveStoreKey(wrappingKey []byte, bucket string) ([]byte, error) {
	return util.HKDF(wrappingKey, []byte(bucket), []byte(storeKeyInfo), util.HKDFKeyLength)
}
