package pipeline

// Coverage 返回对象中出现的阶段期望键，按期望顺序排列。
func Coverage(obj map[string]any, stage Stage) []string {
	if !stage.Valid() {
		return nil
	}
	var found []string
	for _, key := range specs[stage].ExpectedKeys {
		if _, ok := obj[key]; ok {
			found = append(found, key)
		}
	}
	return found
}

// Validate 检查对象是否包含足够多的阶段期望键。只检查顶层键是否存在，不检查值的类型。
func Validate(obj map[string]any, stage Stage) bool {
	if len(obj) == 0 || !stage.Valid() {
		return false
	}
	return len(Coverage(obj, stage)) >= specs[stage].MinKeys
}
