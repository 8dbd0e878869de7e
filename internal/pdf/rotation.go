package pdf

import "fmt"

// NormalizeRotation は任意の整数角度を 0/90/180/270 のいずれかに正規化します。
// 90 の倍数でない角度は丸めずに ErrInvalidArgument で失敗します。
func NormalizeRotation(angle int) (int, error) {
	if angle%90 != 0 {
		return 0, invalidArgument(fmt.Sprintf("回転角度は90の倍数で指定してください (received: %d)", angle))
	}
	return ((angle % 360) + 360) % 360, nil
}
