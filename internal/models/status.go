package models

// 交易状态（封闭集合）。历史记录依赖这些字符串值解码，
// 只允许新增状态，禁止复用或改写已有值。
const (
	// StatusPending 已领取但尚未走完流程（唯一的非终态）
	StatusPending = "pending"
	// StatusSuccess 铸造完成，计算单元已创建并安装
	StatusSuccess = "success"
	// StatusInsufficientAmount 累计余额不足最低开通费用
	StatusInsufficientAmount = "insufficient_amount"
	// StatusSourceValidationFailed 入账交易校验失败（仅在重试已有记录时落库）
	StatusSourceValidationFailed = "source_validation_failed"
	// StatusTransferToMintFailed 向铸造服务转账失败（资金未离开本服务，可重试）
	StatusTransferToMintFailed = "transfer_to_mint_failed"
	// StatusMintGrantFailed 转账已完成但铸造失败（需人工处理，不可自动重试）
	StatusMintGrantFailed = "mint_grant_failed"
	// StatusProvisionFailed 铸造成功但创建/安装计算单元失败
	StatusProvisionFailed = "provision_failed"
)

// IsValidStatus 判断是否为已知状态值
func IsValidStatus(s string) bool {
	switch s {
	case StatusPending, StatusSuccess, StatusInsufficientAmount,
		StatusSourceValidationFailed, StatusTransferToMintFailed,
		StatusMintGrantFailed, StatusProvisionFailed:
		return true
	}
	return false
}

// IsTerminalStatus 判断是否为终态
func IsTerminalStatus(s string) bool {
	return IsValidStatus(s) && s != StatusPending
}

// IsRetryableStatus 判断该状态下能否重新领取同一区块索引。
// 只有两种情况可以重试：
//   - transfer_to_mint_failed：资金还没有离开本服务账户
//   - insufficient_amount：余额可能在后续支付中补足
//
// pending 视为另一笔 saga 正在进行中，不可重复领取。
func IsRetryableStatus(s string) bool {
	return s == StatusTransferToMintFailed || s == StatusInsufficientAmount
}
