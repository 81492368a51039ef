package models

// All 状态库中的全部表，测试里用于AutoMigrate
func All() []interface{} {
	return []interface{}{
		&Conversation{},
		&Interaction{},
		&Annotation{},
		&KeyValue{},
	}
}
