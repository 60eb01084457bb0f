package models

// ProvisionRequest 开通计算单元请求
type ProvisionRequest struct {
	Account          string `json:"account" binding:"required"`    // 付款账户
	SourceBlockIndex uint64 `json:"blockIndex" binding:"required"` // 入账区块索引
	GroupIdentifier  string `json:"groupId"`                       // 可选，逻辑分组标识
}

// ProvisionResponse 开通成功响应
type ProvisionResponse struct {
	UnitID        string `json:"unitId"`
	GrantedCycles uint64 `json:"grantedCycles"`
}

// TopUpRequest 给本服务自身充值 cycles 请求
type TopUpRequest struct {
	Account          string `json:"account" binding:"required"`
	SourceBlockIndex uint64 `json:"blockIndex" binding:"required"`
}

// TopUpResponse 充值响应
type TopUpResponse struct {
	GrantedCycles uint64 `json:"grantedCycles"`
}
