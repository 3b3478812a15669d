package trigger

import "strconv"

func parseInt64(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}

func methodID(signature string) [4]byte {
	return MethodID(signature)
}

// MethodID computes the 4-byte method id for a canonical function
// signature (e.g. "transfer(address,uint256)"), the same way CallFilter
// does internally — exported so other packages (runtimehost) that need to
// match calls against handlers don't duplicate the hashing.
func MethodID(signature string) [4]byte {
	var id [4]byte
	h := keccak256([]byte(signature))
	copy(id[:], h[:4])
	return id
}
