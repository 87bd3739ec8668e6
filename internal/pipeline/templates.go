package pipeline

const situationTemplate = `你是化工安全分析师。阅读下面的事故描述，提取关键信息。

事故描述：
{incident_description}

只输出一个 JSON 对象，键名使用英文，结构如下：
{
  "basic_info": {"time": "YYYY-MM-DD HH:MM:SS", "location": "事发地点", "company": "企业名称"},
  "accident_info": {"type": "泄漏/爆炸/火灾等", "status": "当前状态", "development": "发展过程"},
  "weather_conditions": {"weather": "天气", "wind_direction": "风向", "wind_speed": "风速", "temperature": "温度（摄氏度）"},
  "geographical_info": {"area_type": "区域类型", "distance_to_residential": "距最近居民区距离（米）"},
  "sensitive_targets": {"residential_areas": [], "schools": [], "hospitals": []}
}
描述中没有的信息请合理推测，无法推测时填写"信息不足"。`

const impactTemplate = `你是化工安全评估专家。根据下面的情景分析，评估事故的影响与后果。

情景分析：
{situation_analysis}

只输出一个 JSON 对象，键名使用英文，结构如下：
{
  "dispersion_prediction": {"affected_radius": "影响半径（米）", "main_direction": "主要扩散方向", "spread_speed": "扩散速度", "high_risk_area": "", "medium_risk_area": "", "low_risk_area": ""},
  "population_impact": {"evacuation_radius": "疏散半径（米）", "affected_population": "受影响人数", "priority_evacuation": "优先疏散区域", "estimated_casualties": {"severe": "", "moderate": "", "mild": ""}},
  "environmental_impact": {"air_pollution": {"severity": "", "duration": "", "main_pollutants": ""}, "water_pollution": {"severity": "", "affected_water_bodies": "", "duration": ""}, "soil_contamination": {"severity": "", "affected_area": "", "duration": ""}},
  "secondary_disasters": {"explosion_risk": "", "fire_risk": "", "toxic_release_risk": "", "potential_chain_reactions": ""},
  "social_impact": {"economic_loss": "", "social_stability": "", "industry_impact": ""}
}
无法评估的项填写"信息不足"。`

const responsePlanTemplate = `你是化工应急管理专家。根据下面的事故信息和影响评估，制定应急响应计划。

事故信息：
{accident_info}

影响评估：
{impact_info}

只输出一个 JSON 对象，键名使用英文，结构如下：
{
  "emergency_level": {"level": "I级/II级/III级/IV级", "reason": "定级理由"},
  "evacuation_plan": {"priority_zones": [], "evacuation_routes": [], "assembly_points": [], "vulnerable_groups_arrangements": "", "transportation_arrangements": ""},
  "onsite_response": {"isolation_zone": "隔离范围", "leakage_control": {"method": "", "backup_plans": []}, "hazard_neutralization": {"method": "", "equipment": []}, "ppe_requirements": ""},
  "medical_response": {"triage_locations": [], "ambulance_standby": "救护车待命位置", "medical_supplies": [], "specialist_team": ""},
  "environmental_monitoring": {"air_quality": {"parameters": [], "monitoring_points": []}, "water_monitoring": {"parameters": [], "sampling_locations": []}, "reporting_frequency": ""},
  "resource_allocation": {"emergency_personnel": {"onsite_command": "", "firefighters": "", "medical_staff": "", "security": ""}, "equipment": {"vehicles": [], "specialized_equipment": []}, "external_support": {"government_agencies": [], "nearby_enterprises": []}},
  "information_management": {"notification_chain": [], "public_communication": {"channels": [], "frequency": "", "content": ""}, "rumor_control": ""},
  "recovery_plan": {"site_cleanup": {"methods": "", "timeline": ""}, "environmental_restoration": {"soil_remediation": "", "vegetation_recovery": ""}, "production_resumption": {"safety_inspection": "", "equipment_testing": "", "staff_training": ""}, "long_term_monitoring": ""}
}
无法规划的项填写"信息不足"。`
